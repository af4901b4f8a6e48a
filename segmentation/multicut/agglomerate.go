/*
	Package multicut provides the graph partitioning back ends of the
	segmentation layer: greedy agglomerative clustering with average or
	mutex linkage (the GASP family), and a Kernighan-Lin-style local search
	for plain and lifted multicut problems. All solvers take a node set plus
	weighted edges and return a node-to-label assignment; merging can only
	coarsen the input partition.
*/
package multicut

import (
	"container/heap"
	"math"
	"sort"
)

// WeightedEdge carries a signed interaction between two clusters.
// Positive weights attract, negative weights repel. Size is the number of
// accumulated elementary interactions, used for average linkage.
type WeightedEdge struct {
	U, V   uint64
	Weight float64
	Size   float64
}

type pairKey [2]uint64

func makePair(u, v uint64) pairKey {
	if u > v {
		u, v = v, u
	}
	return pairKey{u, v}
}

type interaction struct {
	weight float64
	size   float64
	stamp  int
}

func (in *interaction) average() float64 {
	if in.size == 0 {
		return 0
	}
	return in.weight / in.size
}

type mergeItem struct {
	priority float64
	key      pairKey
	stamp    int
}

type mergeQueue []mergeItem

func (q mergeQueue) Len() int { return len(q) }
func (q mergeQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	if q[i].key[0] != q[j].key[0] {
		return q[i].key[0] < q[j].key[0]
	}
	return q[i].key[1] < q[j].key[1]
}
func (q mergeQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *mergeQueue) Push(x interface{}) { *q = append(*q, x.(mergeItem)) }
func (q *mergeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// AgglomerateAverage greedily merges the cluster pair with the highest
// average interaction while that average stays positive. Interactions of
// merged clusters are summed, so the linkage is a running weighted average.
func AgglomerateAverage(nodes []uint64, edges []WeightedEdge) map[uint64]uint64 {
	return agglomerate(nodes, edges, func(in *interaction) float64 { return in.average() })
}

// agglomerate runs greedy contraction using priority(in) as merge score,
// merging while the best score is positive.
func agglomerate(nodes []uint64, edges []WeightedEdge, priority func(*interaction) float64) map[uint64]uint64 {
	uf := newUnionFind(nodes)
	inter := make(map[pairKey]*interaction, len(edges))
	nbrs := make(map[uint64]map[uint64]bool, len(nodes))

	link := func(u, v uint64) {
		if nbrs[u] == nil {
			nbrs[u] = make(map[uint64]bool)
		}
		nbrs[u][v] = true
	}
	for _, e := range edges {
		key := makePair(e.U, e.V)
		in, found := inter[key]
		if !found {
			in = &interaction{}
			inter[key] = in
			link(e.U, e.V)
			link(e.V, e.U)
		}
		in.weight += e.Weight
		in.size += e.Size
	}

	q := make(mergeQueue, 0, len(inter))
	for key, in := range inter {
		if p := priority(in); p > 0 {
			q = append(q, mergeItem{p, key, in.stamp})
		}
	}
	heap.Init(&q)

	for q.Len() > 0 {
		item := heap.Pop(&q).(mergeItem)
		in, alive := inter[item.key]
		if !alive || in.stamp != item.stamp || priority(in) <= 0 {
			continue
		}
		u, v := item.key[0], item.key[1]
		if uf.find(u) != u || uf.find(v) != v {
			continue // stale entry for a contracted cluster
		}

		winner, loser := uf.union(u, v)
		delete(inter, item.key)
		delete(nbrs[winner], loser)
		delete(nbrs[loser], winner)

		// Fold the loser's interactions into the winner's.
		for n := range nbrs[loser] {
			fromKey := makePair(loser, n)
			from := inter[fromKey]
			delete(inter, fromKey)
			delete(nbrs[n], loser)

			toKey := makePair(winner, n)
			to, found := inter[toKey]
			if !found {
				to = &interaction{}
				inter[toKey] = to
				link(winner, n)
				link(n, winner)
			}
			to.weight += from.weight
			to.size += from.size
			to.stamp++
			if p := priority(to); p > 0 {
				heap.Push(&q, mergeItem{p, toKey, to.stamp})
			}
		}
		delete(nbrs, loser)
	}

	assignment := make(map[uint64]uint64, len(nodes))
	for _, n := range nodes {
		assignment[n] = uf.find(n)
	}
	return assignment
}

// AgglomerateMutex runs the mutex-linkage variant: edges are visited by
// descending weight magnitude; attractive edges merge clusters unless a
// mutex constraint forbids it, repulsive edges install such a constraint.
// Once two clusters are mutually excluded no later merge can join them.
func AgglomerateMutex(nodes []uint64, edges []WeightedEdge) map[uint64]uint64 {
	sorted := make([]WeightedEdge, len(edges))
	copy(sorted, edges)
	sort.Slice(sorted, func(i, j int) bool {
		ai, aj := math.Abs(sorted[i].Weight), math.Abs(sorted[j].Weight)
		if ai != aj {
			return ai > aj
		}
		if sorted[i].U != sorted[j].U {
			return sorted[i].U < sorted[j].U
		}
		return sorted[i].V < sorted[j].V
	})

	uf := newUnionFind(nodes)
	mutex := make(map[uint64]map[uint64]bool)

	excluded := func(a, b uint64) bool {
		return mutex[a][b]
	}
	exclude := func(a, b uint64) {
		if mutex[a] == nil {
			mutex[a] = make(map[uint64]bool)
		}
		if mutex[b] == nil {
			mutex[b] = make(map[uint64]bool)
		}
		mutex[a][b] = true
		mutex[b][a] = true
	}

	for _, e := range sorted {
		if e.Weight == 0 {
			continue
		}
		ru, rv := uf.find(e.U), uf.find(e.V)
		if ru == rv {
			continue
		}
		if e.Weight > 0 {
			if excluded(ru, rv) {
				continue
			}
			winner, loser := uf.union(ru, rv)
			for m := range mutex[loser] {
				delete(mutex[m], loser)
				mutex[m][winner] = true
				if mutex[winner] == nil {
					mutex[winner] = make(map[uint64]bool)
				}
				mutex[winner][m] = true
			}
			delete(mutex, loser)
		} else {
			exclude(ru, rv)
		}
	}

	assignment := make(map[uint64]uint64, len(nodes))
	for _, n := range nodes {
		assignment[n] = uf.find(n)
	}
	return assignment
}
