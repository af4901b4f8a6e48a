/*
	Package rag builds region adjacency graphs from label volumes. Nodes are
	the labels of a superpixel partition; undirected edges connect touching
	regions and carry the mean boundary probability along the shared
	interface. The package also derives lifted (non-adjacent) constraints
	from nuclei evidence for the lifted multicut solvers.
*/
package rag

import (
	"fmt"
	"math"
	"sort"

	"github.com/lorenzocerrone/plant-seg/volume"
)

// Edge is one region adjacency with accumulated boundary evidence.
type Edge struct {
	U, V uint64 // U < V
	Sum  float64
	Size int // interface voxel-pair count
}

// MeanProbability is the average boundary probability along the interface.
func (e Edge) MeanProbability() float64 {
	if e.Size == 0 {
		return 0
	}
	return e.Sum / float64(e.Size)
}

// Graph is a region adjacency graph. Edges are sorted by (U, V) so graph
// construction is deterministic.
type Graph struct {
	Edges []Edge

	nodes     []uint64
	adjacency map[uint64][]uint64
}

// Compute builds the RAG of the superpixel partition, accumulating the
// boundary map across every face between two differing labels. The two
// volumes must share a shape.
func Compute(superpixels *volume.LabelVolume, boundary *volume.Volume) (*Graph, error) {
	if err := volume.CheckSameShape(superpixels.Size, boundary.Size); err != nil {
		return nil, fmt.Errorf("rag: %w", err)
	}
	size := superpixels.Size
	acc := make(map[[2]uint64]*Edge)
	nodeSet := make(map[uint64]bool)

	visit := func(i, j int) {
		u, v := superpixels.Data[i], superpixels.Data[j]
		if u == v {
			return
		}
		if u > v {
			u, v = v, u
		}
		key := [2]uint64{u, v}
		e, found := acc[key]
		if !found {
			e = &Edge{U: u, V: v}
			acc[key] = e
		}
		e.Sum += float64(boundary.Data[i]+boundary.Data[j]) / 2
		e.Size++
	}

	for z := 0; z < size[0]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[2]; x++ {
				i := size.Index(z, y, x)
				nodeSet[superpixels.Data[i]] = true
				if x+1 < size[2] {
					visit(i, size.Index(z, y, x+1))
				}
				if y+1 < size[1] {
					visit(i, size.Index(z, y+1, x))
				}
				if z+1 < size[0] {
					visit(i, size.Index(z+1, y, x))
				}
			}
		}
	}

	g := &Graph{
		Edges:     make([]Edge, 0, len(acc)),
		nodes:     make([]uint64, 0, len(nodeSet)),
		adjacency: make(map[uint64][]uint64, len(nodeSet)),
	}
	for _, e := range acc {
		g.Edges = append(g.Edges, *e)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].U != g.Edges[j].U {
			return g.Edges[i].U < g.Edges[j].U
		}
		return g.Edges[i].V < g.Edges[j].V
	})
	for node := range nodeSet {
		g.nodes = append(g.nodes, node)
	}
	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i] < g.nodes[j] })
	for _, e := range g.Edges {
		g.adjacency[e.U] = append(g.adjacency[e.U], e.V)
		g.adjacency[e.V] = append(g.adjacency[e.V], e.U)
	}
	return g, nil
}

// Nodes returns the sorted labels present in the partition.
func (g *Graph) Nodes() []uint64 {
	return g.nodes
}

// NumNodes returns the number of distinct labels.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// Neighbors returns the labels adjacent to u.
func (g *Graph) Neighbors(u uint64) []uint64 {
	return g.adjacency[u]
}

const probabilityEps = 1e-6

// EdgeCosts converts per-edge mean boundary probabilities into signed
// multicut costs. Low boundary probability yields a positive (attractive)
// cost, high probability a negative (repulsive) one. beta biases the
// merge/split trade-off: low beta favors merging.
func EdgeCosts(g *Graph, beta float64) []float64 {
	betaBias := math.Log((1 - beta) / beta)
	costs := make([]float64, len(g.Edges))
	for i, e := range g.Edges {
		p := clampProbability(e.MeanProbability())
		costs[i] = math.Log((1-p)/p) + betaBias
	}
	return costs
}

func clampProbability(p float64) float64 {
	if p < probabilityEps {
		return probabilityEps
	}
	if p > 1-probabilityEps {
		return 1 - probabilityEps
	}
	return p
}

// ProjectNodeLabels broadcasts per-node assignments back onto the
// superpixel map. Superpixels missing from the assignment keep label 0.
func ProjectNodeLabels(superpixels *volume.LabelVolume, nodeLabels map[uint64]uint64) *volume.LabelVolume {
	out := volume.NewLabelVolume(superpixels.Size)
	for i, sp := range superpixels.Data {
		out.Data[i] = nodeLabels[sp]
	}
	return out
}
