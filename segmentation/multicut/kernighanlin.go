package multicut

import (
	"github.com/lorenzocerrone/plant-seg/segmentation/rag"
)

// maxPasses bounds the local-search sweeps; the heuristic usually settles
// well before this.
const maxPasses = 25

// Solve partitions the RAG by minimizing the total cost of cut edges:
// greedy additive edge contraction produces an initial clustering which a
// Kernighan-Lin-style node-moving pass then refines. costs must align with
// g.Edges. The returned assignment maps every node to a cluster id.
func Solve(g *rag.Graph, costs []float64) map[uint64]uint64 {
	return solve(g, costs, nil)
}

// SolveLifted solves the combined local+lifted problem. Lifted edges
// contribute to the objective but never create adjacency: contraction only
// happens along local RAG edges.
func SolveLifted(g *rag.Graph, costs []float64, lifted []rag.LiftedEdge) map[uint64]uint64 {
	return solve(g, costs, lifted)
}

func solve(g *rag.Graph, costs []float64, lifted []rag.LiftedEdge) map[uint64]uint64 {
	nodes := g.Nodes()

	// Initial solution by greedy additive contraction along local edges.
	// Lifted interactions are folded into the pairwise sums so long-range
	// evidence already steers the contraction order, but only locally
	// adjacent pairs can actually merge.
	edges := make([]WeightedEdge, 0, len(g.Edges))
	for i, e := range g.Edges {
		edges = append(edges, WeightedEdge{U: e.U, V: e.V, Weight: costs[i], Size: 1})
	}
	liftedOnly := make([]WeightedEdge, 0, len(lifted))
	for _, le := range lifted {
		liftedOnly = append(liftedOnly, WeightedEdge{U: le.U, V: le.V, Weight: le.Cost, Size: 0})
	}

	assignment := contractLocal(nodes, edges, liftedOnly)
	refine(nodes, append(edges, liftedOnly...), assignment)
	return assignment
}

// contractLocal is greedy additive edge contraction: repeatedly merge the
// locally adjacent cluster pair with the largest positive total
// interaction (local plus lifted), until none remains.
func contractLocal(nodes []uint64, localEdges, liftedEdges []WeightedEdge) map[uint64]uint64 {
	// Locality is tracked through Size: local contributions carry Size 1,
	// lifted contributions Size 0, and the merge priority requires a
	// positive accumulated Size (at least one local interface).
	all := make([]WeightedEdge, 0, len(localEdges)+len(liftedEdges))
	all = append(all, localEdges...)
	for _, le := range liftedEdges {
		le.Size = 0
		all = append(all, le)
	}
	return agglomerate(nodes, all, func(in *interaction) float64 {
		if in.size <= 0 {
			return 0 // no local interface, not contractible
		}
		return in.weight
	})
}

// refine sweeps all nodes, greedily moving each to the neighboring cluster
// (or to a fresh singleton) that maximizes the total intra-cluster cost,
// until a sweep makes no improving move.
func refine(nodes []uint64, edges []WeightedEdge, assignment map[uint64]uint64) {
	adj := make(map[uint64][]WeightedEdge, len(nodes))
	for _, e := range edges {
		adj[e.U] = append(adj[e.U], e)
		adj[e.V] = append(adj[e.V], WeightedEdge{U: e.V, V: e.U, Weight: e.Weight, Size: e.Size})
	}

	// Cluster ids for fresh singletons start past every existing id.
	var nextCluster uint64
	for _, c := range assignment {
		if c >= nextCluster {
			nextCluster = c + 1
		}
	}

	for pass := 0; pass < maxPasses; pass++ {
		improved := false
		for _, n := range nodes {
			current := assignment[n]

			// Sum of costs from n into each adjacent cluster. Lifted edges
			// (Size 0) count toward the objective but do not make a cluster
			// a movable target: membership always needs a local interface.
			clusterCost := make(map[uint64]float64)
			localTarget := make(map[uint64]bool)
			for _, e := range adj[n] {
				c := assignment[e.V]
				clusterCost[c] += e.Weight
				if e.Size > 0 {
					localTarget[c] = true
				}
			}

			// Gain of moving to target = cost(n, target) - cost(n, current).
			// Moving to a fresh singleton has cost(n, target) = 0.
			bestTarget := current
			bestGain := 0.0
			stay := clusterCost[current]
			for target, c := range clusterCost {
				if target == current || !localTarget[target] {
					continue
				}
				if gain := c - stay; gain > bestGain {
					bestGain = gain
					bestTarget = target
				}
			}
			if -stay > bestGain {
				bestGain = -stay
				bestTarget = nextCluster
			}

			if bestTarget != current && bestGain > 1e-12 {
				if bestTarget == nextCluster {
					nextCluster++
				}
				assignment[n] = bestTarget
				improved = true
			}
		}
		if !improved {
			break
		}
	}
}
