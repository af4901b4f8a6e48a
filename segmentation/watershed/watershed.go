/*
	Package watershed implements the seeded watershed engine used by the
	segmentation layer: a smoothed boundary map is thresholded into
	foreground, a distance transform of the foreground supplies seed points
	at its local maxima, and a priority flood grows regions over a weight
	map blended from the boundary probabilities and the inverted distance
	transform. Execution is either full-volume or slice-wise stacked.
*/
package watershed

import (
	"container/heap"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/volume"
)

// Options configures a distance-transform watershed run.
type Options struct {
	// Threshold applied to the sigma-seeds-smoothed boundary map. Voxels
	// below it form the foreground used for seeding.
	Threshold float64

	// SigmaSeeds smooths the boundary map before thresholding.
	SigmaSeeds float64

	// SigmaWeights smooths the boundary map used as growth weights.
	SigmaWeights float64

	// MinSize merges output regions smaller than this voxel count into
	// their most similar neighbor by boundary cost.
	MinSize int

	// Alpha blends boundary weights and inverted distance transform:
	// weights = alpha*boundary + (1-alpha)*(1 - normalized dt).
	Alpha float64

	// PixelPitch rescales distances per axis for anisotropic voxel
	// spacing. Nil assumes isotropic spacing.
	PixelPitch []float64

	// ApplyNonmaxSuppression drops seeds lying within the distance-transform
	// radius of a stronger seed.
	ApplyNonmaxSuppression bool

	// Mask restricts the watershed to true voxels; masked-out voxels keep
	// label 0. Nil means the whole volume.
	Mask []bool
}

// DefaultOptions mirrors the interactive defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:    0.5,
		SigmaSeeds:   1.0,
		SigmaWeights: 2.0,
		MinSize:      100,
		Alpha:        1.0,
	}
}

func (opts Options) validate(size volume.Shape) error {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return fmt.Errorf("watershed threshold %g outside [0, 1]", opts.Threshold)
	}
	if opts.Alpha < 0 || opts.Alpha > 1 {
		return fmt.Errorf("watershed alpha %g outside [0, 1]", opts.Alpha)
	}
	if opts.PixelPitch != nil && len(opts.PixelPitch) != 3 {
		return fmt.Errorf("pixel pitch needs 3 entries, got %d", len(opts.PixelPitch))
	}
	if opts.Mask != nil && len(opts.Mask) != size.NumVoxels() {
		return fmt.Errorf("mask has %d entries but volume %s needs %d",
			len(opts.Mask), size, size.NumVoxels())
	}
	return nil
}

// DistanceTransformWatershed segments the full boundary volume at once.
// Every output label covers a region of at least MinSize voxels, unless the
// whole (masked) volume is itself too small to filter.
func DistanceTransformWatershed(boundary *volume.Volume, opts Options) (*volume.LabelVolume, error) {
	if err := opts.validate(boundary.Size); err != nil {
		return nil, err
	}
	timelog := pseg.NewTimeLog()

	seedMap := volume.GaussianSmooth(boundary, opts.SigmaSeeds)
	foreground := threshold(seedMap, opts.Threshold, opts.Mask)
	dt := DistanceTransform(foreground, boundary.Size, opts.PixelPitch)

	weights := boundary
	if opts.SigmaWeights > 0 {
		weights = volume.GaussianSmooth(boundary, opts.SigmaWeights)
	}
	if opts.Alpha < 1 {
		weights = blendWeights(weights, dt, opts.Alpha)
	}

	seeds := findSeeds(dt, boundary.Size, opts)
	labels := Flood(weights, seeds, opts.Mask)

	if opts.MinSize > 0 {
		labels = ApplySizeFilter(labels, weights, opts.MinSize)
	}
	labels, n := volume.RelabelConsecutive(labels)
	timelog.Debugf("dt watershed on %s volume produced %d segments", boundary.Size, n)
	return labels, nil
}

// Stacked runs the 2D algorithm independently per z slice, in parallel, and
// offsets labels so they stay unique across slices. nThreads <= 0 uses one
// worker per CPU.
func Stacked(boundary *volume.Volume, opts Options, nThreads int) (*volume.LabelVolume, error) {
	if err := opts.validate(boundary.Size); err != nil {
		return nil, err
	}
	if nThreads <= 0 {
		nThreads = runtime.NumCPU()
	}
	nz := boundary.Size[0]
	sliceN := boundary.Size[1] * boundary.Size[2]
	slices := make([]*volume.LabelVolume, nz)

	var g errgroup.Group
	g.SetLimit(nThreads)
	for z := 0; z < nz; z++ {
		g.Go(func() error {
			sliceOpts := opts
			if opts.Mask != nil {
				sliceOpts.Mask = opts.Mask[z*sliceN : (z+1)*sliceN]
			}
			if opts.PixelPitch != nil {
				sliceOpts.PixelPitch = []float64{1, opts.PixelPitch[1], opts.PixelPitch[2]}
			}
			ws, err := DistanceTransformWatershed(boundary.ZSlice(z), sliceOpts)
			if err != nil {
				return fmt.Errorf("stacked watershed slice %d: %w", z, err)
			}
			slices[z] = ws
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := volume.NewLabelVolume(boundary.Size)
	var offset uint64
	for z, ws := range slices {
		var sliceMax uint64
		for i, label := range ws.Data {
			if label != 0 {
				out.Data[z*sliceN+i] = label + offset
				if label > sliceMax {
					sliceMax = label
				}
			}
		}
		offset += sliceMax
	}
	return out, nil
}

func threshold(v *volume.Volume, t float64, mask []bool) []bool {
	foreground := make([]bool, len(v.Data))
	for i, val := range v.Data {
		foreground[i] = float64(val) < t && (mask == nil || mask[i])
	}
	return foreground
}

func blendWeights(boundary *volume.Volume, dt []float64, alpha float64) *volume.Volume {
	var maxDist float64
	for _, d := range dt {
		if d > maxDist {
			maxDist = d
		}
	}
	out := volume.NewVolume(boundary.Size)
	scale := 1.0 / (maxDist + 1e-12)
	for i, b := range boundary.Data {
		inverted := 1 - dt[i]*scale
		out.Data[i] = float32(alpha*float64(b) + (1-alpha)*inverted)
	}
	return out
}

// --- priority-flood growth ---

type floodItem struct {
	weight float32
	index  int
	label  uint64
}

type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].weight != q[j].weight {
		return q[i].weight < q[j].weight
	}
	return q[i].index < q[j].index // deterministic tie-break
}
func (q floodQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(floodItem)) }
func (q *floodQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

var growNeighbors = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// Flood grows the seed labels over the weight map, lowest weight first,
// into every unassigned voxel inside the mask. Seed voxels keep their
// labels. The result is deterministic: ties resolve by voxel index.
func Flood(weights *volume.Volume, seeds *volume.LabelVolume, mask []bool) *volume.LabelVolume {
	size := weights.Size
	out := seeds.Clone()
	q := make(floodQueue, 0, 1024)

	push := func(from int, label uint64) {
		z, y, x := size.Coord(from)
		for _, d := range growNeighbors {
			nz, ny, nx := z+d[0], y+d[1], x+d[2]
			if !size.Contains(nz, ny, nx) {
				continue
			}
			j := size.Index(nz, ny, nx)
			if out.Data[j] != 0 || (mask != nil && !mask[j]) {
				continue
			}
			out.Data[j] = label
			heap.Push(&q, floodItem{weights.Data[j], j, label})
		}
	}

	for i, label := range out.Data {
		if label != 0 {
			push(i, label)
		}
	}
	for q.Len() > 0 {
		item := heap.Pop(&q).(floodItem)
		push(item.index, item.label)
	}
	return out
}

// ApplySizeFilter clears labels covering fewer than minSize voxels and
// regrows the surviving labels into the cleared space over the weight map,
// so each discarded fragment joins its most similar neighbor by boundary
// cost. If no label survives the filter, the input is returned unchanged.
// The filter is idempotent: a filtered volume passes through untouched.
func ApplySizeFilter(labels *volume.LabelVolume, weights *volume.Volume, minSize int) *volume.LabelVolume {
	sizes := volume.LabelSizes(labels)
	anySurvives := false
	anySmall := false
	for _, n := range sizes {
		if n >= minSize {
			anySurvives = true
		} else {
			anySmall = true
		}
	}
	if !anySmall {
		return labels
	}
	if !anySurvives {
		return labels // whole volume too small to filter
	}

	seeds := volume.NewLabelVolume(labels.Size)
	mask := make([]bool, len(labels.Data))
	for i, label := range labels.Data {
		mask[i] = label != 0
		if label != 0 && sizes[label] >= minSize {
			seeds.Data[i] = label
		}
	}
	return Flood(weights, seeds, mask)
}
