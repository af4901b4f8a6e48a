package watershed

import "math"

// DistanceTransform computes the exact Euclidean distance from every
// foreground voxel to the nearest background voxel, using the
// squared-parabola lower-envelope method one axis at a time. pitch gives
// the physical spacing per axis (nil = isotropic unit spacing).
func DistanceTransform(foreground []bool, size [3]int, pitch []float64) []float64 {
	if pitch == nil {
		pitch = []float64{1, 1, 1}
	}
	f := make([]float64, len(foreground))
	for i, fg := range foreground {
		if fg {
			f[i] = math.Inf(1)
		}
	}

	nz, ny, nx := size[0], size[1], size[2]
	line := make([]float64, max3(nz, ny, nx))
	dist := make([]float64, len(line))

	// x axis
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			base := (z*ny + y) * nx
			for x := 0; x < nx; x++ {
				line[x] = f[base+x]
			}
			dt1d(line[:nx], dist[:nx], pitch[2])
			for x := 0; x < nx; x++ {
				f[base+x] = dist[x]
			}
		}
	}
	// y axis
	for z := 0; z < nz; z++ {
		for x := 0; x < nx; x++ {
			base := z*ny*nx + x
			for y := 0; y < ny; y++ {
				line[y] = f[base+y*nx]
			}
			dt1d(line[:ny], dist[:ny], pitch[1])
			for y := 0; y < ny; y++ {
				f[base+y*nx] = dist[y]
			}
		}
	}
	// z axis
	if nz > 1 {
		stride := ny * nx
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				base := y*nx + x
				for z := 0; z < nz; z++ {
					line[z] = f[base+z*stride]
				}
				dt1d(line[:nz], dist[:nz], pitch[0])
				for z := 0; z < nz; z++ {
					f[base+z*stride] = dist[z]
				}
			}
		}
	}

	for i, d := range f {
		if math.IsInf(d, 1) {
			f[i] = 0 // no background anywhere along any axis
		} else {
			f[i] = math.Sqrt(d)
		}
	}
	return f
}

// dt1d computes the 1D squared distance transform of sampled function f
// with sample spacing s (Felzenszwalb & Huttenlocher lower envelope).
func dt1d(f, d []float64, s float64) {
	n := len(f)
	if n == 1 {
		d[0] = f[0]
		return
	}
	v := make([]int, n)
	z := make([]float64, n+1)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)

	for q := 1; q < n; q++ {
		if math.IsInf(f[q], 1) && math.IsInf(f[v[k]], 1) {
			// Parabola intersections are undefined for two infinite
			// parabolas; the later one can never win before the earlier.
			continue
		}
		var x float64
		for {
			p := v[k]
			x = intersect(f, p, q, s)
			if x <= z[k] && k > 0 {
				k--
				continue
			}
			break
		}
		k++
		v[k] = q
		z[k] = x
		z[k+1] = math.Inf(1)
	}

	k = 0
	for q := 0; q < n; q++ {
		pos := float64(q) * s
		for z[k+1] < pos {
			k++
		}
		p := v[k]
		if math.IsInf(f[p], 1) {
			d[q] = math.Inf(1)
		} else {
			dx := s * float64(q-p)
			d[q] = dx*dx + f[p]
		}
	}
}

// intersect returns the abscissa where parabolas rooted at samples p and q
// cross, in physical coordinates.
func intersect(f []float64, p, q int, s float64) float64 {
	if math.IsInf(f[p], 1) {
		return math.Inf(-1) // q's parabola dominates everywhere
	}
	if math.IsInf(f[q], 1) {
		return math.Inf(1)
	}
	xp := s * float64(p)
	xq := s * float64(q)
	return ((f[q] + xq*xq) - (f[p] + xp*xp)) / (2 * (xq - xp))
}

func max3(a, b, c int) int {
	if b > a {
		a = b
	}
	if c > a {
		a = c
	}
	return a
}
