package volume

import "testing"

func TestConnectedComponentsSplitsDisconnectedRegions(t *testing.T) {
	lv := NewLabelVolume(Shape{1, 1, 7})
	// Two runs of label 5 separated by background.
	copy(lv.Data, []uint64{5, 5, 0, 0, 5, 5, 5})

	out := ConnectedComponents(lv)
	want := []uint64{1, 1, 0, 0, 2, 2, 2}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Fatalf("cc[%d] = %d, want %d (full: %v)", i, out.Data[i], want[i], out.Data)
		}
	}
}

func TestConnectedComponentsKeepsLabelBoundaries(t *testing.T) {
	lv := NewLabelVolume(Shape{1, 1, 4})
	// Touching runs with different input labels stay separate components.
	copy(lv.Data, []uint64{3, 3, 8, 8})

	out := ConnectedComponents(lv)
	if out.Data[0] != 1 || out.Data[1] != 1 || out.Data[2] != 2 || out.Data[3] != 2 {
		t.Fatalf("adjacent distinct labels merged: %v", out.Data)
	}
}

func TestRelabelConsecutive(t *testing.T) {
	lv := NewLabelVolume(Shape{1, 1, 6})
	copy(lv.Data, []uint64{9, 0, 9, 4, 100, 4})

	out, n := RelabelConsecutive(lv)
	if n != 3 {
		t.Fatalf("got %d labels, want 3", n)
	}
	want := []uint64{1, 0, 1, 2, 3, 2}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Fatalf("relabel[%d] = %d, want %d", i, out.Data[i], want[i])
		}
	}
}

func TestSetBackgroundToValue(t *testing.T) {
	lv := NewLabelVolume(Shape{1, 1, 5})
	copy(lv.Data, []uint64{7, 7, 7, 2, 3})

	out := SetBackgroundToValue(lv, 0)
	// Label 7 is the most frequent; it becomes background. Others shift by 1.
	want := []uint64{0, 0, 0, 3, 4}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Fatalf("bg[%d] = %d, want %d", i, out.Data[i], want[i])
		}
	}
}

func TestLabelSizesAndMaxLabel(t *testing.T) {
	lv := NewLabelVolume(Shape{1, 1, 5})
	copy(lv.Data, []uint64{0, 1, 1, 6, 6})
	sizes := LabelSizes(lv)
	if sizes[1] != 2 || sizes[6] != 2 || len(sizes) != 2 {
		t.Fatalf("unexpected sizes %v", sizes)
	}
	if MaxLabel(lv) != 6 {
		t.Fatalf("max label %d, want 6", MaxLabel(lv))
	}
}
