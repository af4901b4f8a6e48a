package volume

import "math"

// epsilon stabilizes divides on zero-variance inputs.
const epsilon = 1e-12

// GaussianSmooth returns a separably Gaussian-smoothed copy of v. The sigma
// along each axis is clamped to (n-1)/3 so the kernel never exceeds the
// volume extent, matching the behavior expected by the watershed seeding
// stage for thin stacks.
func GaussianSmooth(v *Volume, sigma float64) *Volume {
	out := v.Clone()
	if sigma <= 0 {
		return out
	}
	for axis := 0; axis < 3; axis++ {
		n := v.Size[axis]
		if n < 2 {
			continue
		}
		axisSigma := math.Min(sigma, float64(n-1)/3)
		kernel := gaussianKernel(axisSigma)
		convolveAxis(out, axis, kernel)
	}
	return out
}

func gaussianKernel(sigma float64) []float32 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float32, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = float32(w)
		sum += w
	}
	for i := range kernel {
		kernel[i] = float32(float64(kernel[i]) / sum)
	}
	return kernel
}

// convolveAxis convolves in place along one axis with reflected boundaries.
func convolveAxis(v *Volume, axis int, kernel []float32) {
	radius := len(kernel) / 2
	n := v.Size[axis]
	line := make([]float32, n)

	var stride int
	switch axis {
	case 0:
		stride = v.Size[1] * v.Size[2]
	case 1:
		stride = v.Size[2]
	default:
		stride = 1
	}

	forEachLine(v.Size, axis, func(start int) {
		for i := 0; i < n; i++ {
			line[i] = v.Data[start+i*stride]
		}
		for i := 0; i < n; i++ {
			var acc float32
			for k := -radius; k <= radius; k++ {
				j := reflectIndex(i+k, n)
				acc += kernel[k+radius] * line[j]
			}
			v.Data[start+i*stride] = acc
		}
	})
}

// forEachLine calls fn with the flat offset of the first voxel of every
// line running along the given axis.
func forEachLine(size Shape, axis int, fn func(start int)) {
	switch axis {
	case 0:
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[2]; x++ {
				fn(size.Index(0, y, x))
			}
		}
	case 1:
		for z := 0; z < size[0]; z++ {
			for x := 0; x < size[2]; x++ {
				fn(size.Index(z, 0, x))
			}
		}
	default:
		for z := 0; z < size[0]; z++ {
			for y := 0; y < size[1]; y++ {
				fn(size.Index(z, y, 0))
			}
		}
	}
}

func reflectIndex(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}

// Normalize01 rescales values to [0, 1] with an epsilon-stabilized divide,
// so zero-variance inputs map to zero instead of failing.
func Normalize01(v *Volume) *Volume {
	out := NewVolume(v.Size)
	if len(v.Data) == 0 {
		return out
	}
	min, max := v.Data[0], v.Data[0]
	for _, val := range v.Data {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	scale := 1.0 / (float64(max-min) + epsilon)
	for i, val := range v.Data {
		out.Data[i] = float32(float64(val-min) * scale)
	}
	return out
}

// Invert returns 1 - v, the usual conversion between boundary probability
// and merge affinity.
func Invert(v *Volume) *Volume {
	out := NewVolume(v.Size)
	for i, val := range v.Data {
		out.Data[i] = 1 - val
	}
	return out
}
