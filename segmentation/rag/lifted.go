package rag

import (
	"fmt"
	"math"
	"sort"

	"github.com/lorenzocerrone/plant-seg/volume"
)

// LiftedEdge connects two non-adjacent regions with long-range merge/split
// evidence. Positive cost attracts, negative repels.
type LiftedEdge struct {
	U, V uint64 // U < V
	Cost float64
}

// LiftedOptions holds the empirically tuned constants of the lifted
// problems. They are defaults, not invariants.
type LiftedOptions struct {
	// GraphDepth bounds how many RAG hops apart two regions may be for a
	// lifted edge to form. Hop distance 1 is local adjacency and excluded.
	GraphDepth int

	// AssignmentThreshold gates which probability evidence counts: a
	// region participates only when its mean nuclei probability is at
	// least this confident (>= threshold, or <= 1-threshold).
	AssignmentThreshold float64

	// OverlapThreshold is the minimum fraction of a region covered by a
	// nucleus for the region to count as assigned to it.
	OverlapThreshold float64

	// SameSegmentCost / DifferentSegmentCost are the attraction and
	// repulsion applied for regions assigned to the same or to different
	// nuclei. They should dominate local edge costs.
	SameSegmentCost      float64
	DifferentSegmentCost float64
}

// DefaultLiftedOptions returns the tuned defaults. The caller fills in the
// cost scale from the local problem (see ScaleCosts).
func DefaultLiftedOptions() LiftedOptions {
	return LiftedOptions{
		GraphDepth:          4,
		AssignmentThreshold: 0.9,
		OverlapThreshold:    0.2,
	}
}

// ScaleCosts sets the same/different segment costs to factor times the
// maximum local cost magnitude, so lifted evidence dominates local costs.
func (opts *LiftedOptions) ScaleCosts(localCosts []float64, factor float64) {
	var maxAbs float64
	for _, c := range localCosts {
		if a := math.Abs(c); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}
	opts.SameSegmentCost = factor * maxAbs
	opts.DifferentSegmentCost = -factor * maxAbs
}

// LiftedFromProbabilities derives lifted edges from a nuclei probability
// map: each region gets the mean nuclei probability over its voxels, and
// confidently assigned region pairs within GraphDepth hops receive a cost
// favoring merge when both (or neither) look like nuclei and split when
// they disagree.
func LiftedFromProbabilities(g *Graph, superpixels *volume.LabelVolume, nucleiPmaps *volume.Volume, opts LiftedOptions) ([]LiftedEdge, error) {
	if err := volume.CheckSameShape(superpixels.Size, nucleiPmaps.Size); err != nil {
		return nil, fmt.Errorf("lifted problem: %w", err)
	}

	sums := make(map[uint64]float64)
	counts := make(map[uint64]int)
	for i, sp := range superpixels.Data {
		sums[sp] += float64(nucleiPmaps.Data[i])
		counts[sp]++
	}
	assigned := make(map[uint64]float64)
	for _, node := range g.Nodes() {
		p := sums[node] / float64(counts[node])
		if p >= opts.AssignmentThreshold || p <= 1-opts.AssignmentThreshold {
			assigned[node] = p
		}
	}

	var lifted []LiftedEdge
	forEachLiftedPair(g, opts.GraphDepth, func(u, v uint64) {
		pu, okU := assigned[u]
		pv, okV := assigned[v]
		if !okU || !okV {
			return
		}
		// Probability that both regions belong to the same class.
		pSame := clampProbability(pu*pv + (1-pu)*(1-pv))
		lifted = append(lifted, LiftedEdge{U: u, V: v, Cost: math.Log(pSame / (1 - pSame))})
	})
	return lifted, nil
}

// LiftedFromSegmentation derives lifted edges from a discrete nuclei
// segmentation: regions sharing a dominant nucleus attract with
// SameSegmentCost, regions assigned to different nuclei repel with
// DifferentSegmentCost.
func LiftedFromSegmentation(g *Graph, superpixels, nucleiSeg *volume.LabelVolume, opts LiftedOptions) ([]LiftedEdge, error) {
	if err := volume.CheckSameShape(superpixels.Size, nucleiSeg.Size); err != nil {
		return nil, fmt.Errorf("lifted problem: %w", err)
	}

	overlap := make(map[uint64]map[uint64]int)
	regionSize := make(map[uint64]int)
	for i, sp := range superpixels.Data {
		regionSize[sp]++
		nucleus := nucleiSeg.Data[i]
		if nucleus == 0 {
			continue
		}
		m, found := overlap[sp]
		if !found {
			m = make(map[uint64]int)
			overlap[sp] = m
		}
		m[nucleus]++
	}

	assigned := make(map[uint64]uint64)
	for _, node := range g.Nodes() {
		var bestNucleus uint64
		bestCount := 0
		for nucleus, n := range overlap[node] {
			if n > bestCount || (n == bestCount && nucleus < bestNucleus) {
				bestCount = n
				bestNucleus = nucleus
			}
		}
		if bestCount == 0 {
			continue
		}
		if float64(bestCount)/float64(regionSize[node]) >= opts.OverlapThreshold {
			assigned[node] = bestNucleus
		}
	}

	var lifted []LiftedEdge
	forEachLiftedPair(g, opts.GraphDepth, func(u, v uint64) {
		nu, okU := assigned[u]
		nv, okV := assigned[v]
		if !okU || !okV {
			return
		}
		cost := opts.DifferentSegmentCost
		if nu == nv {
			cost = opts.SameSegmentCost
		}
		lifted = append(lifted, LiftedEdge{U: u, V: v, Cost: cost})
	})
	return lifted, nil
}

// forEachLiftedPair calls fn once per unordered node pair whose RAG hop
// distance lies in [2, depth]. Pairs are visited in sorted node order so
// output is deterministic.
func forEachLiftedPair(g *Graph, depth int, fn func(u, v uint64)) {
	for _, u := range g.Nodes() {
		dist := map[uint64]int{u: 0}
		frontier := []uint64{u}
		for d := 1; d <= depth; d++ {
			var next []uint64
			for _, node := range frontier {
				for _, nb := range g.Neighbors(node) {
					if _, seen := dist[nb]; !seen {
						dist[nb] = d
						next = append(next, nb)
					}
				}
			}
			frontier = next
		}
		reached := make([]uint64, 0, len(dist))
		for v, d := range dist {
			if v > u && d >= 2 {
				reached = append(reached, v)
			}
		}
		sort.Slice(reached, func(i, j int) bool { return reached[i] < reached[j] })
		for _, v := range reached {
			fn(u, v)
		}
	}
}
