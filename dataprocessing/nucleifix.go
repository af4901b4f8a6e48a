package dataprocessing

import (
	"fmt"
	"sort"

	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/segmentation/watershed"
	"github.com/lorenzocerrone/plant-seg/volume"
)

// NucleiFixOptions tunes the conflict resolution thresholds. Both are
// fractions of a nucleus' voxel count.
type NucleiFixOptions struct {
	// ThresholdMerge: a nucleus covered by several cells, each holding at
	// least this fraction of it, signals over-segmentation and the cells
	// are merged.
	ThresholdMerge float64

	// ThresholdSplit: a cell containing several nuclei, each lying inside
	// it by at least this fraction, signals under-segmentation and the
	// cell is split between them.
	ThresholdSplit float64
}

// DefaultNucleiFixOptions returns the interactive defaults.
func DefaultNucleiFixOptions() NucleiFixOptions {
	return NucleiFixOptions{ThresholdMerge: 0.33, ThresholdSplit: 0.66}
}

// FixOverUnderSegmentationFromNuclei reconciles a cell instance
// segmentation against a trusted nuclei instance segmentation. Boundary
// evidence weights the split decisions; a nil boundary falls back to the
// distance transform of the cell interior.
func FixOverUnderSegmentationFromNuclei(cellSeg, nucleiSeg *volume.LabelVolume, boundary *volume.Volume, opts NucleiFixOptions) (*volume.LabelVolume, error) {
	if err := volume.CheckSameShape(cellSeg.Size, nucleiSeg.Size); err != nil {
		return nil, fmt.Errorf("nuclei fix: %w", err)
	}
	if boundary != nil {
		if err := volume.CheckSameShape(cellSeg.Size, boundary.Size); err != nil {
			return nil, fmt.Errorf("nuclei fix: %w", err)
		}
	}
	timelog := pseg.NewTimeLog()

	out := cellSeg.Clone()

	// Per-nucleus breakdown of which cells cover it.
	nucleusSizes := volume.LabelSizes(nucleiSeg)
	coverage := make(map[uint64]map[uint64]int) // nucleus -> cell -> voxels
	for i, nucleus := range nucleiSeg.Data {
		if nucleus == 0 {
			continue
		}
		cell := out.Data[i]
		if cell == 0 {
			continue
		}
		m, found := coverage[nucleus]
		if !found {
			m = make(map[uint64]int)
			coverage[nucleus] = m
		}
		m[cell]++
	}

	merged := mergeSplitNuclei(out, coverage, nucleusSizes, opts.ThresholdMerge)
	split, err := splitMultiNucleusCells(out, nucleiSeg, boundary, coverage, nucleusSizes, opts.ThresholdSplit)
	if err != nil {
		return nil, err
	}

	out, n := volume.RelabelConsecutive(out)
	timelog.Infof("nuclei fix merged %d cell groups, split %d cells, %d labels", merged, split, n)
	return out, nil
}

// mergeSplitNuclei merges every cell group that jointly covers one nucleus
// with per-cell coverage above the merge threshold.
func mergeSplitNuclei(cells *volume.LabelVolume, coverage map[uint64]map[uint64]int, nucleusSizes map[uint64]int, threshold float64) int {
	remap := make(map[uint64]uint64)
	resolve := func(c uint64) uint64 {
		for {
			next, found := remap[c]
			if !found {
				return c
			}
			c = next
		}
	}

	nuclei := make([]uint64, 0, len(coverage))
	for nucleus := range coverage {
		nuclei = append(nuclei, nucleus)
	}
	sort.Slice(nuclei, func(i, j int) bool { return nuclei[i] < nuclei[j] })

	merges := 0
	for _, nucleus := range nuclei {
		total := float64(nucleusSizes[nucleus])
		group := make([]uint64, 0, 4)
		for cell, n := range coverage[nucleus] {
			if float64(n)/total >= threshold {
				group = append(group, resolve(cell))
			}
		}
		sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
		group = dedup(group)
		if len(group) < 2 {
			continue
		}
		target := group[0]
		for _, cell := range group[1:] {
			remap[cell] = target
		}
		merges++
	}
	if len(remap) == 0 {
		return 0
	}
	for i, cell := range cells.Data {
		if cell != 0 {
			cells.Data[i] = resolve(cell)
		}
	}
	return merges
}

// splitMultiNucleusCells splits every cell holding two or more
// sufficiently contained nuclei, growing the nuclei as watershed seeds
// over the boundary evidence restricted to that cell.
func splitMultiNucleusCells(cells, nucleiSeg *volume.LabelVolume, boundary *volume.Volume, coverage map[uint64]map[uint64]int, nucleusSizes map[uint64]int, threshold float64) (int, error) {
	// Invert coverage: cell -> nuclei contained above threshold.
	contained := make(map[uint64][]uint64)
	for nucleus, cellCover := range coverage {
		total := float64(nucleusSizes[nucleus])
		var bestCell uint64
		bestFrac := 0.0
		for cell, n := range cellCover {
			if f := float64(n) / total; f > bestFrac || (f == bestFrac && cell < bestCell) {
				bestFrac = f
				bestCell = cell
			}
		}
		if bestFrac >= threshold {
			contained[bestCell] = append(contained[bestCell], nucleus)
		}
	}

	weights := boundary
	if weights == nil {
		// No boundary evidence: split along the inverted distance
		// transform of the cell interior.
		interior := make([]bool, len(cells.Data))
		for i, cell := range cells.Data {
			interior[i] = cell != 0
		}
		dt := watershed.DistanceTransform(interior, cells.Size, nil)
		var maxDist float64
		for _, d := range dt {
			if d > maxDist {
				maxDist = d
			}
		}
		weights = volume.NewVolume(cells.Size)
		for i, d := range dt {
			weights.Data[i] = float32(1 - d/(maxDist+1e-12))
		}
	}

	next := volume.MaxLabel(cells) + 1
	splits := 0
	cellIDs := make([]uint64, 0, len(contained))
	for cell := range contained {
		cellIDs = append(cellIDs, cell)
	}
	sort.Slice(cellIDs, func(i, j int) bool { return cellIDs[i] < cellIDs[j] })

	for _, cell := range cellIDs {
		nuclei := contained[cell]
		if len(nuclei) < 2 {
			continue
		}
		sort.Slice(nuclei, func(i, j int) bool { return nuclei[i] < nuclei[j] })

		// Seed each nucleus with a fresh label, flood within the cell.
		seeds := volume.NewLabelVolume(cells.Size)
		mask := make([]bool, len(cells.Data))
		seedLabel := make(map[uint64]uint64, len(nuclei))
		for _, nucleus := range nuclei {
			seedLabel[nucleus] = next
			next++
		}
		for i, c := range cells.Data {
			if c != cell {
				continue
			}
			mask[i] = true
			if label, found := seedLabel[nucleiSeg.Data[i]]; found {
				seeds.Data[i] = label
			}
		}
		grown := watershed.Flood(weights, seeds, mask)
		for i, label := range grown.Data {
			if label != 0 {
				cells.Data[i] = label
			}
		}
		splits++
	}
	return splits, nil
}

func dedup(sorted []uint64) []uint64 {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
