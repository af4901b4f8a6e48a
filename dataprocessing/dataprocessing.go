/*
	Package dataprocessing holds the generic image and label transforms
	that prepare volumes for segmentation: rescaling between voxel sizes,
	normalization, cropping, input shape fixing, and label housekeeping.
	It also hosts the nuclei-guided conflict resolution engine that
	reconciles a cell segmentation against a trusted nuclei segmentation.
*/
package dataprocessing

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lorenzocerrone/plant-seg/volume"
)

// InterpolationOrder selects the rescale interpolation.
type InterpolationOrder int

const (
	// Nearest is order 0, used for label volumes.
	Nearest InterpolationOrder = 0

	// Trilinear is order 1, used for intensity and probability volumes.
	Trilinear InterpolationOrder = 1
)

// ComputeScalingFactor returns the per-axis zoom taking data at
// inputVoxelSize to outputVoxelSize.
func ComputeScalingFactor(inputVoxelSize, outputVoxelSize [3]float64) [3]float64 {
	var factor [3]float64
	for d := range factor {
		factor[d] = inputVoxelSize[d] / outputVoxelSize[d]
	}
	return factor
}

// ComputeScalingVoxelSize returns the voxel size of data rescaled by factor.
func ComputeScalingVoxelSize(inputVoxelSize, factor [3]float64) [3]float64 {
	var out [3]float64
	for d := range out {
		out[d] = inputVoxelSize[d] / factor[d]
	}
	return out
}

// ScaleImageToVoxelSize rescales so the data's spacing becomes
// outputVoxelSize.
func ScaleImageToVoxelSize(v *volume.Volume, inputVoxelSize, outputVoxelSize [3]float64, order InterpolationOrder) *volume.Volume {
	return ImageRescale(v, ComputeScalingFactor(inputVoxelSize, outputVoxelSize), order)
}

// ImageRescale zooms the volume by the per-axis factor. A unit factor
// returns the input untouched.
func ImageRescale(v *volume.Volume, factor [3]float64, order InterpolationOrder) *volume.Volume {
	if factor == [3]float64{1, 1, 1} {
		return v
	}
	outSize := scaledShape(v.Size, factor)
	out := volume.NewVolume(outSize)
	for z := 0; z < outSize[0]; z++ {
		for y := 0; y < outSize[1]; y++ {
			for x := 0; x < outSize[2]; x++ {
				sz := (float64(z) + 0.5) / factor[0]
				sy := (float64(y) + 0.5) / factor[1]
				sx := (float64(x) + 0.5) / factor[2]
				var val float32
				if order == Nearest {
					val = v.At(nearestIndex(sz, v.Size[0]), nearestIndex(sy, v.Size[1]), nearestIndex(sx, v.Size[2]))
				} else {
					val = trilinearSample(v, sz-0.5, sy-0.5, sx-0.5)
				}
				out.Set(z, y, x, val)
			}
		}
	}
	return out
}

// LabelRescale zooms a label volume with nearest-neighbor sampling.
func LabelRescale(lv *volume.LabelVolume, factor [3]float64) *volume.LabelVolume {
	if factor == [3]float64{1, 1, 1} {
		return lv
	}
	outSize := scaledShape(lv.Size, factor)
	out := volume.NewLabelVolume(outSize)
	for z := 0; z < outSize[0]; z++ {
		for y := 0; y < outSize[1]; y++ {
			for x := 0; x < outSize[2]; x++ {
				sz := (float64(z) + 0.5) / factor[0]
				sy := (float64(y) + 0.5) / factor[1]
				sx := (float64(x) + 0.5) / factor[2]
				out.Set(z, y, x, lv.At(nearestIndex(sz, lv.Size[0]), nearestIndex(sy, lv.Size[1]), nearestIndex(sx, lv.Size[2])))
			}
		}
	}
	return out
}

func scaledShape(size volume.Shape, factor [3]float64) volume.Shape {
	var out volume.Shape
	for d := range out {
		out[d] = int(math.Round(float64(size[d]) * factor[d]))
		if out[d] < 1 {
			out[d] = 1
		}
	}
	return out
}

func nearestIndex(pos float64, n int) int {
	i := int(pos)
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func trilinearSample(v *volume.Volume, z, y, x float64) float32 {
	z0, y0, x0 := clampFloor(z, v.Size[0]), clampFloor(y, v.Size[1]), clampFloor(x, v.Size[2])
	z1, y1, x1 := minInt(z0+1, v.Size[0]-1), minInt(y0+1, v.Size[1]-1), minInt(x0+1, v.Size[2]-1)
	fz, fy, fx := fraction(z, z0), fraction(y, y0), fraction(x, x0)

	c00 := lerp(v.At(z0, y0, x0), v.At(z0, y0, x1), fx)
	c01 := lerp(v.At(z0, y1, x0), v.At(z0, y1, x1), fx)
	c10 := lerp(v.At(z1, y0, x0), v.At(z1, y0, x1), fx)
	c11 := lerp(v.At(z1, y1, x0), v.At(z1, y1, x1), fx)
	c0 := lerp(c00, c01, fy)
	c1 := lerp(c10, c11, fy)
	return lerp(c0, c1, fz)
}

func clampFloor(pos float64, n int) int {
	i := int(math.Floor(pos))
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func fraction(pos float64, i int) float32 {
	f := pos - float64(i)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return float32(f)
}

func lerp(a, b, f float32) float32 {
	return a + (b-a)*f
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Normalize01 rescales intensities into [0, 1].
func Normalize01(v *volume.Volume) *volume.Volume {
	return volume.Normalize01(v)
}

// FixInputShape promotes 2D data to a unit-depth 3D volume and takes the
// first channel of 4D data. dims holds the original extents, outermost
// first.
func FixInputShape(data []float32, dims []int) (*volume.Volume, error) {
	switch len(dims) {
	case 2:
		return volume.NewVolumeFrom(volume.Shape{1, dims[0], dims[1]}, data)
	case 3:
		return volume.NewVolumeFrom(volume.Shape{dims[0], dims[1], dims[2]}, data)
	case 4:
		size := volume.Shape{dims[1], dims[2], dims[3]}
		if len(data) < dims[1]*dims[2]*dims[3] {
			return nil, fmt.Errorf("4d input with %d values cannot hold one %s channel", len(data), size)
		}
		return volume.NewVolumeFrom(size, data[:size.NumVoxels()])
	default:
		return nil, fmt.Errorf("expected input data to be 2d, 3d or 4d, but got %dd input", len(dims))
	}
}

// ImageCrop crops with a bracketed slice expression like
// "[10:20, :, 5:50]". Empty bounds keep the full axis extent.
func ImageCrop(v *volume.Volume, cropStr string) (*volume.Volume, error) {
	lo, hi, err := parseCrop(cropStr, v.Size)
	if err != nil {
		return nil, err
	}
	out := volume.NewVolume(volume.Shape{hi[0] - lo[0], hi[1] - lo[1], hi[2] - lo[2]})
	for z := lo[0]; z < hi[0]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			for x := lo[2]; x < hi[2]; x++ {
				out.Set(z-lo[0], y-lo[1], x-lo[2], v.At(z, y, x))
			}
		}
	}
	return out, nil
}

func parseCrop(cropStr string, size volume.Shape) (lo, hi [3]int, err error) {
	s := strings.NewReplacer("[", "", "]", "").Replace(cropStr)
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return lo, hi, fmt.Errorf("crop %q needs 3 axes, got %d", cropStr, len(parts))
	}
	for d, part := range parts {
		part = strings.TrimSpace(part)
		bounds := strings.Split(part, ":")
		if len(bounds) != 2 {
			return lo, hi, fmt.Errorf("crop axis %d (%q) must be start:stop", d, part)
		}
		lo[d], hi[d] = 0, size[d]
		if b := strings.TrimSpace(bounds[0]); b != "" {
			if lo[d], err = strconv.Atoi(b); err != nil {
				return lo, hi, fmt.Errorf("crop axis %d: %w", d, err)
			}
		}
		if b := strings.TrimSpace(bounds[1]); b != "" {
			if hi[d], err = strconv.Atoi(b); err != nil {
				return lo, hi, fmt.Errorf("crop axis %d: %w", d, err)
			}
		}
		if lo[d] < 0 || hi[d] > size[d] || lo[d] >= hi[d] {
			return lo, hi, fmt.Errorf("crop axis %d range [%d:%d] invalid for extent %d", d, lo[d], hi[d], size[d])
		}
	}
	return lo, hi, nil
}

// RelabelSegmentation relabels contiguously so non-touching instances with
// the same id end up with different ids.
func RelabelSegmentation(lv *volume.LabelVolume) *volume.LabelVolume {
	return volume.ConnectedComponents(lv)
}

// SetBackgroundToValue reassigns the most frequent label to value.
func SetBackgroundToValue(lv *volume.LabelVolume, value uint64) *volume.LabelVolume {
	return volume.SetBackgroundToValue(lv, value)
}
