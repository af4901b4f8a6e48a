package volume

// neighbors6 is the 6-connected 3D neighborhood (face adjacency).
var neighbors6 = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// ConnectedComponents relabels lv so that spatially disconnected regions
// sharing a label id get distinct ids. Voxels with label 0 stay background.
// Components are 6-connected and output labels are contiguous from 1 in
// scan order, so the result is deterministic.
func ConnectedComponents(lv *LabelVolume) *LabelVolume {
	out := NewLabelVolume(lv.Size)
	var next uint64
	stack := make([]int, 0, 1024)

	for start, label := range lv.Data {
		if label == 0 || out.Data[start] != 0 {
			continue
		}
		next++
		out.Data[start] = next
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			z, y, x := lv.Size.Coord(i)
			for _, d := range neighbors6 {
				nz, ny, nx := z+d[0], y+d[1], x+d[2]
				if !lv.Size.Contains(nz, ny, nx) {
					continue
				}
				j := lv.Size.Index(nz, ny, nx)
				if out.Data[j] == 0 && lv.Data[j] == label {
					out.Data[j] = next
					stack = append(stack, j)
				}
			}
		}
	}
	return out
}

// LabelSizes returns the voxel count per label, excluding background.
func LabelSizes(lv *LabelVolume) map[uint64]int {
	sizes := make(map[uint64]int)
	for _, label := range lv.Data {
		if label != 0 {
			sizes[label]++
		}
	}
	return sizes
}

// MaxLabel returns the largest label id present.
func MaxLabel(lv *LabelVolume) uint64 {
	var max uint64
	for _, label := range lv.Data {
		if label > max {
			max = label
		}
	}
	return max
}

// RelabelConsecutive remaps labels to 1..n in order of first appearance,
// keeping 0 as background. Returns the relabeled copy and the number of
// distinct non-background labels.
func RelabelConsecutive(lv *LabelVolume) (*LabelVolume, uint64) {
	out := NewLabelVolume(lv.Size)
	mapping := make(map[uint64]uint64)
	var next uint64
	for i, label := range lv.Data {
		if label == 0 {
			continue
		}
		newLabel, found := mapping[label]
		if !found {
			next++
			newLabel = next
			mapping[label] = newLabel
		}
		out.Data[i] = newLabel
	}
	return out, next
}

// SetBackgroundToValue reassigns the most frequent label to the given
// value, used to recover a background id from segmentations produced
// without one. All labels are first shifted by one so an existing 0 label
// is preserved as foreground.
func SetBackgroundToValue(lv *LabelVolume, value uint64) *LabelVolume {
	shifted := NewLabelVolume(lv.Size)
	counts := make(map[uint64]int)
	for i, label := range lv.Data {
		shifted.Data[i] = label + 1
		counts[label+1]++
	}
	var bg uint64
	best := -1
	for label, n := range counts {
		if n > best || (n == best && label < bg) {
			best = n
			bg = label
		}
	}
	for i, label := range shifted.Data {
		if label == bg {
			shifted.Data[i] = value
		}
	}
	return shifted
}
