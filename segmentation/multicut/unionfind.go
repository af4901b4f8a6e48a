package multicut

// unionFind is a disjoint-set forest over arbitrary uint64 labels with
// union by size and path compression.
type unionFind struct {
	parent map[uint64]uint64
	size   map[uint64]int
}

func newUnionFind(nodes []uint64) *unionFind {
	uf := &unionFind{
		parent: make(map[uint64]uint64, len(nodes)),
		size:   make(map[uint64]int, len(nodes)),
	}
	for _, n := range nodes {
		uf.parent[n] = n
		uf.size[n] = 1
	}
	return uf
}

func (uf *unionFind) find(n uint64) uint64 {
	root := n
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[n] != root {
		uf.parent[n], n = root, uf.parent[n]
	}
	return root
}

// union merges the sets of a and b, returning (winner, loser). The larger
// set wins; ties go to the smaller label for determinism.
func (uf *unionFind) union(a, b uint64) (winner, loser uint64) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return ra, ra
	}
	if uf.size[ra] < uf.size[rb] || (uf.size[ra] == uf.size[rb] && rb < ra) {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
	return ra, rb
}
