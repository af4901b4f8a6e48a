/*
	Package volume holds the dense array types shared by all segmentation
	operations: float32 scalar volumes for probability maps and intensities,
	and uint64 label volumes for instance segmentations. Data is stored in a
	flat backing slice in ZYX order.
*/
package volume

import "fmt"

// Shape is the (z, y, x) extent of a volume.
type Shape [3]int

// NumVoxels returns the total number of voxels for this shape.
func (s Shape) NumVoxels() int {
	return s[0] * s[1] * s[2]
}

// Index converts a (z, y, x) coordinate into a flat slice offset.
func (s Shape) Index(z, y, x int) int {
	return (z*s[1]+y)*s[2] + x
}

// Coord converts a flat slice offset back into (z, y, x).
func (s Shape) Coord(i int) (z, y, x int) {
	x = i % s[2]
	i /= s[2]
	y = i % s[1]
	z = i / s[1]
	return
}

// Contains reports whether (z, y, x) lies inside the volume bounds.
func (s Shape) Contains(z, y, x int) bool {
	return z >= 0 && z < s[0] && y >= 0 && y < s[1] && x >= 0 && x < s[2]
}

func (s Shape) Equals(s2 Shape) bool {
	return s == s2
}

func (s Shape) String() string {
	return fmt.Sprintf("%d x %d x %d", s[0], s[1], s[2])
}

// Volume is a dense float32 scalar volume, e.g. a boundary probability map.
type Volume struct {
	Size Shape
	Data []float32
}

// NewVolume allocates a zeroed volume of the given shape.
func NewVolume(size Shape) *Volume {
	return &Volume{Size: size, Data: make([]float32, size.NumVoxels())}
}

// NewVolumeFrom wraps existing data, checking the length matches the shape.
func NewVolumeFrom(size Shape, data []float32) (*Volume, error) {
	if len(data) != size.NumVoxels() {
		return nil, fmt.Errorf("volume data has %d values but shape %s needs %d",
			len(data), size, size.NumVoxels())
	}
	return &Volume{Size: size, Data: data}, nil
}

func (v *Volume) At(z, y, x int) float32 {
	return v.Data[v.Size.Index(z, y, x)]
}

func (v *Volume) Set(z, y, x int, value float32) {
	v.Data[v.Size.Index(z, y, x)] = value
}

// Clone returns a deep copy. Operations follow a copy-on-transform
// discipline: inputs are never mutated.
func (v *Volume) Clone() *Volume {
	out := NewVolume(v.Size)
	copy(out.Data, v.Data)
	return out
}

// ZSlice returns the 2D slice at depth z as a unit-depth volume sharing
// the backing data.
func (v *Volume) ZSlice(z int) *Volume {
	n := v.Size[1] * v.Size[2]
	return &Volume{
		Size: Shape{1, v.Size[1], v.Size[2]},
		Data: v.Data[z*n : (z+1)*n],
	}
}

// LabelVolume is a dense uint64 label volume. Label 0 conventionally
// denotes background after relabeling.
type LabelVolume struct {
	Size Shape
	Data []uint64
}

// NewLabelVolume allocates a zeroed label volume of the given shape.
func NewLabelVolume(size Shape) *LabelVolume {
	return &LabelVolume{Size: size, Data: make([]uint64, size.NumVoxels())}
}

// NewLabelVolumeFrom wraps existing labels, checking the length matches.
func NewLabelVolumeFrom(size Shape, data []uint64) (*LabelVolume, error) {
	if len(data) != size.NumVoxels() {
		return nil, fmt.Errorf("label data has %d values but shape %s needs %d",
			len(data), size, size.NumVoxels())
	}
	return &LabelVolume{Size: size, Data: data}, nil
}

func (lv *LabelVolume) At(z, y, x int) uint64 {
	return lv.Data[lv.Size.Index(z, y, x)]
}

func (lv *LabelVolume) Set(z, y, x int, label uint64) {
	lv.Data[lv.Size.Index(z, y, x)] = label
}

// Clone returns a deep copy.
func (lv *LabelVolume) Clone() *LabelVolume {
	out := NewLabelVolume(lv.Size)
	copy(out.Data, lv.Data)
	return out
}

// ZSlice returns the 2D slice at depth z as a unit-depth label volume
// sharing the backing data.
func (lv *LabelVolume) ZSlice(z int) *LabelVolume {
	n := lv.Size[1] * lv.Size[2]
	return &LabelVolume{
		Size: Shape{1, lv.Size[1], lv.Size[2]},
		Data: lv.Data[z*n : (z+1)*n],
	}
}

// CheckSameShape returns a shape mismatch error unless all given shapes
// agree with the first. Paired inputs to one operation (boundary map,
// superpixels, nuclei) must cover the same spatial extent.
func CheckSameShape(first Shape, rest ...Shape) error {
	for _, s := range rest {
		if !first.Equals(s) {
			return fmt.Errorf("shape mismatch: %s vs %s", first, s)
		}
	}
	return nil
}
