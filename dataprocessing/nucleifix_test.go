package dataprocessing

import (
	"testing"

	"github.com/lorenzocerrone/plant-seg/volume"
)

func TestNucleiFixMergesOversegmentedCell(t *testing.T) {
	size := volume.Shape{1, 1, 8}
	cells := volume.NewLabelVolume(size)
	nuclei := volume.NewLabelVolume(size)
	// One nucleus straddling two cells, half in each.
	copy(cells.Data, []uint64{1, 1, 1, 1, 2, 2, 2, 2})
	copy(nuclei.Data, []uint64{0, 0, 5, 5, 5, 5, 0, 0})

	out, err := FixOverUnderSegmentationFromNuclei(cells, nuclei, nil, DefaultNucleiFixOptions())
	if err != nil {
		t.Fatalf("nuclei fix failed: %v", err)
	}
	if out.Data[0] != out.Data[7] {
		t.Fatalf("cells sharing a nucleus not merged: %v", out.Data)
	}
}

func TestNucleiFixSplitsUndersegmentedCell(t *testing.T) {
	size := volume.Shape{1, 1, 9}
	cells := volume.NewLabelVolume(size)
	nuclei := volume.NewLabelVolume(size)
	// One cell fully containing two separate nuclei.
	copy(cells.Data, []uint64{1, 1, 1, 1, 1, 1, 1, 1, 1})
	copy(nuclei.Data, []uint64{0, 7, 7, 0, 0, 0, 9, 9, 0})

	out, err := FixOverUnderSegmentationFromNuclei(cells, nuclei, nil, DefaultNucleiFixOptions())
	if err != nil {
		t.Fatalf("nuclei fix failed: %v", err)
	}
	if out.Data[1] == out.Data[7] {
		t.Fatalf("multi-nucleus cell not split: %v", out.Data)
	}
	// Every voxel of the original cell stays labeled.
	for i, label := range out.Data {
		if label == 0 {
			t.Fatalf("voxel %d lost its label in the split: %v", i, out.Data)
		}
	}
}

func TestNucleiFixSplitUsesBoundaryEvidence(t *testing.T) {
	size := volume.Shape{1, 1, 9}
	cells := volume.NewLabelVolume(size)
	nuclei := volume.NewLabelVolume(size)
	boundary := volume.NewVolume(size)
	copy(cells.Data, []uint64{1, 1, 1, 1, 1, 1, 1, 1, 1})
	copy(nuclei.Data, []uint64{0, 7, 7, 0, 0, 0, 9, 9, 0})
	// A boundary ridge at voxel 4 steers the split there.
	boundary.Data[4] = 1

	out, err := FixOverUnderSegmentationFromNuclei(cells, nuclei, boundary, DefaultNucleiFixOptions())
	if err != nil {
		t.Fatalf("nuclei fix failed: %v", err)
	}
	if out.Data[3] == out.Data[5] {
		t.Fatalf("split did not follow the boundary ridge: %v", out.Data)
	}
	if out.Data[0] != out.Data[3] || out.Data[5] != out.Data[8] {
		t.Fatalf("split fragments are not contiguous halves: %v", out.Data)
	}
}

func TestNucleiFixLeavesConsistentSegmentationAlone(t *testing.T) {
	size := volume.Shape{1, 1, 8}
	cells := volume.NewLabelVolume(size)
	nuclei := volume.NewLabelVolume(size)
	// One nucleus per cell: nothing to fix.
	copy(cells.Data, []uint64{1, 1, 1, 1, 2, 2, 2, 2})
	copy(nuclei.Data, []uint64{0, 5, 5, 0, 0, 6, 6, 0})

	out, err := FixOverUnderSegmentationFromNuclei(cells, nuclei, nil, DefaultNucleiFixOptions())
	if err != nil {
		t.Fatalf("nuclei fix failed: %v", err)
	}
	if out.Data[0] == out.Data[4] {
		t.Fatalf("distinct consistent cells merged: %v", out.Data)
	}
	for i := 1; i < len(out.Data); i++ {
		if (cells.Data[i] == cells.Data[i-1]) != (out.Data[i] == out.Data[i-1]) {
			t.Fatalf("consistent segmentation changed at voxel %d: %v", i, out.Data)
		}
	}
}

func TestNucleiFixRejectsShapeMismatch(t *testing.T) {
	cells := volume.NewLabelVolume(volume.Shape{1, 1, 4})
	nuclei := volume.NewLabelVolume(volume.Shape{1, 1, 5})
	if _, err := FixOverUnderSegmentationFromNuclei(cells, nuclei, nil, DefaultNucleiFixOptions()); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}
