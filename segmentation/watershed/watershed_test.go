package watershed

import (
	"reflect"
	"testing"

	"github.com/lorenzocerrone/plant-seg/volume"
)

// twoSlabVolume builds a boundary volume split in two by a thick
// high-probability wall normal to the y axis.
func twoSlabVolume(size volume.Shape, wallY int) *volume.Volume {
	v := volume.NewVolume(size)
	for z := 0; z < size[0]; z++ {
		for y := wallY - 1; y <= wallY+1; y++ {
			for x := 0; x < size[2]; x++ {
				v.Set(z, y, x, 1)
			}
		}
	}
	return v
}

func TestWatershedSeparatesTwoHalves(t *testing.T) {
	size := volume.Shape{10, 50, 50}
	boundary := twoSlabVolume(size, 25)

	opts := DefaultOptions()
	opts.MinSize = 10
	labels, err := DistanceTransformWatershed(boundary, opts)
	if err != nil {
		t.Fatalf("watershed failed: %v", err)
	}

	distinct := volume.LabelSizes(labels)
	if len(distinct) != 2 {
		t.Fatalf("got %d segments, want 2: %v", len(distinct), distinct)
	}
	// Every voxel is assigned.
	for i, label := range labels.Data {
		if label == 0 {
			z, y, x := size.Coord(i)
			t.Fatalf("voxel (%d,%d,%d) left unlabeled", z, y, x)
		}
	}
	// The two sides of the wall get different labels.
	if labels.At(5, 0, 25) == labels.At(5, 49, 25) {
		t.Fatalf("both sides of the wall share label %d", labels.At(5, 0, 25))
	}
}

func TestWatershedSeparatesSlabsAlongZ(t *testing.T) {
	// Same two-slab scenario with the wall normal to the anisotropic z
	// axis: a 10x50x50 stack split by a thick wall at z in [4, 6], with a
	// coarser pitch along z.
	size := volume.Shape{10, 50, 50}
	boundary := volume.NewVolume(size)
	for z := 4; z <= 6; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[2]; x++ {
				boundary.Set(z, y, x, 1)
			}
		}
	}

	opts := DefaultOptions()
	opts.MinSize = 10
	opts.PixelPitch = []float64{2, 1, 1}
	labels, err := DistanceTransformWatershed(boundary, opts)
	if err != nil {
		t.Fatalf("watershed failed: %v", err)
	}

	distinct := volume.LabelSizes(labels)
	if len(distinct) != 2 {
		t.Fatalf("got %d segments, want 2: %v", len(distinct), distinct)
	}
	for i, label := range labels.Data {
		if label == 0 {
			z, y, x := size.Coord(i)
			t.Fatalf("voxel (%d,%d,%d) left unlabeled", z, y, x)
		}
	}
	if labels.At(0, 25, 25) == labels.At(9, 25, 25) {
		t.Fatalf("both sides of the z wall share label %d", labels.At(0, 25, 25))
	}
}

func TestWatershedEmptyForegroundFallsBackToSingleSegment(t *testing.T) {
	size := volume.Shape{4, 4, 4}
	boundary := volume.NewVolume(size)
	for i := range boundary.Data {
		boundary.Data[i] = 1 // everything is boundary
	}
	opts := DefaultOptions()
	opts.MinSize = 0
	labels, err := DistanceTransformWatershed(boundary, opts)
	if err != nil {
		t.Fatalf("watershed failed: %v", err)
	}
	if n := len(volume.LabelSizes(labels)); n != 1 {
		t.Fatalf("got %d segments from empty foreground, want 1", n)
	}
}

func TestWatershedValidation(t *testing.T) {
	boundary := volume.NewVolume(volume.Shape{2, 2, 2})
	opts := DefaultOptions()
	opts.Threshold = 1.5
	if _, err := DistanceTransformWatershed(boundary, opts); err == nil {
		t.Errorf("expected error for threshold outside [0, 1]")
	}

	opts = DefaultOptions()
	opts.PixelPitch = []float64{1, 1}
	if _, err := DistanceTransformWatershed(boundary, opts); err == nil {
		t.Errorf("expected error for 2-entry pixel pitch")
	}

	opts = DefaultOptions()
	opts.Mask = make([]bool, 3)
	if _, err := DistanceTransformWatershed(boundary, opts); err == nil {
		t.Errorf("expected error for wrong-length mask")
	}
}

func TestStackedMatchesPerSliceSegmentation(t *testing.T) {
	size := volume.Shape{3, 12, 13}
	boundary := volume.NewVolume(size)
	// Vertical wall at x in [5, 7] splits every slice in two.
	for z := 0; z < size[0]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 5; x <= 7; x++ {
				boundary.Set(z, y, x, 1)
			}
		}
	}

	opts := DefaultOptions()
	opts.MinSize = 5
	labels, err := Stacked(boundary, opts, 2)
	if err != nil {
		t.Fatalf("stacked watershed failed: %v", err)
	}

	// Two segments per slice, unique across slices.
	distinct := volume.LabelSizes(labels)
	if len(distinct) != 2*size[0] {
		t.Fatalf("got %d segments, want %d: %v", len(distinct), 2*size[0], distinct)
	}
	for z := 0; z < size[0]; z++ {
		left, right := labels.At(z, 6, 0), labels.At(z, 6, 12)
		if left == right {
			t.Fatalf("slice %d: wall sides share label %d", z, left)
		}
		if z > 0 && labels.At(z, 6, 0) == labels.At(z-1, 6, 0) {
			t.Fatalf("slices %d and %d share label %d", z-1, z, left)
		}
	}
}

func TestFloodIsDeterministic(t *testing.T) {
	size := volume.Shape{1, 3, 5}
	weights := volume.NewVolume(size)
	seeds := volume.NewLabelVolume(size)
	seeds.Set(0, 1, 0, 1)
	seeds.Set(0, 1, 4, 2)

	first := Flood(weights, seeds, nil)
	for trial := 0; trial < 5; trial++ {
		again := Flood(weights, seeds, nil)
		if !reflect.DeepEqual(first.Data, again.Data) {
			t.Fatalf("flood result varies across runs: %v vs %v", first.Data, again.Data)
		}
	}
	// All-equal weights: ties resolve by voxel index, so the lower-index
	// seed wins the middle column.
	if first.At(0, 1, 2) != 1 {
		t.Fatalf("middle voxel got label %d, want 1 by index tie-break", first.At(0, 1, 2))
	}
}

func TestApplySizeFilterGuaranteesMinSize(t *testing.T) {
	size := volume.Shape{1, 1, 10}
	labels := volume.NewLabelVolume(size)
	copy(labels.Data, []uint64{1, 1, 1, 1, 2, 3, 3, 3, 3, 3})
	weights := volume.NewVolume(size)

	out := ApplySizeFilter(labels, weights, 3)
	for label, n := range volume.LabelSizes(out) {
		if n < 3 {
			t.Fatalf("label %d has %d voxels after filtering, want >= 3", label, n)
		}
	}
	if _, alive := volume.LabelSizes(out)[2]; alive {
		t.Fatalf("undersized label 2 survived the filter")
	}
}

func TestApplySizeFilterIsIdempotent(t *testing.T) {
	size := volume.Shape{1, 1, 10}
	labels := volume.NewLabelVolume(size)
	copy(labels.Data, []uint64{1, 1, 1, 1, 2, 3, 3, 3, 3, 3})
	weights := volume.NewVolume(size)

	once := ApplySizeFilter(labels, weights, 3)
	twice := ApplySizeFilter(once, weights, 3)
	if !reflect.DeepEqual(once.Data, twice.Data) {
		t.Fatalf("size filter not idempotent: %v vs %v", once.Data, twice.Data)
	}
}

func TestApplySizeFilterAllSmallReturnsInput(t *testing.T) {
	size := volume.Shape{1, 1, 4}
	labels := volume.NewLabelVolume(size)
	copy(labels.Data, []uint64{1, 1, 2, 2})
	weights := volume.NewVolume(size)

	out := ApplySizeFilter(labels, weights, 100)
	if !reflect.DeepEqual(out.Data, labels.Data) {
		t.Fatalf("filter with nothing surviving should return input unchanged")
	}
}
