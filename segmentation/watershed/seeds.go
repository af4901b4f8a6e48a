package watershed

import (
	"sort"

	"github.com/lorenzocerrone/plant-seg/volume"
)

// findSeeds places one seed per plateau-connected local maximum of the
// distance transform. With no maxima at all (e.g. empty foreground), the
// whole masked volume becomes a single seed so the watershed still returns
// a valid labeling.
func findSeeds(dt []float64, size volume.Shape, opts Options) *volume.LabelVolume {
	maxima := localMaxima(dt, size)
	seeds := labelMaxima(maxima, dt, size)
	if opts.ApplyNonmaxSuppression {
		seeds = suppressSeeds(seeds, dt, size, opts.PixelPitch)
	}
	if volume.MaxLabel(seeds) == 0 {
		for i := range seeds.Data {
			if opts.Mask == nil || opts.Mask[i] {
				seeds.Data[i] = 1
			}
		}
	}
	return seeds
}

// localMaxima marks voxels whose distance value is positive and not
// exceeded by any 26-neighbor (8-neighbor in a unit-depth slice).
func localMaxima(dt []float64, size volume.Shape) []bool {
	maxima := make([]bool, len(dt))
	for i, d := range dt {
		if d <= 0 {
			continue
		}
		z, y, x := size.Coord(i)
		isMax := true
	neighbors:
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dz == 0 && dy == 0 && dx == 0 {
						continue
					}
					nz, ny, nx := z+dz, y+dy, x+dx
					if !size.Contains(nz, ny, nx) {
						continue
					}
					if dt[size.Index(nz, ny, nx)] > d {
						isMax = false
						break neighbors
					}
				}
			}
		}
		maxima[i] = isMax
	}
	return maxima
}

// labelMaxima groups 26-connected maxima plateaus so each plateau yields a
// single seed label.
func labelMaxima(maxima []bool, dt []float64, size volume.Shape) *volume.LabelVolume {
	seeds := volume.NewLabelVolume(size)
	var next uint64
	stack := make([]int, 0, 64)
	for start, isMax := range maxima {
		if !isMax || seeds.Data[start] != 0 {
			continue
		}
		next++
		seeds.Data[start] = next
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			z, y, x := size.Coord(i)
			for dz := -1; dz <= 1; dz++ {
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nz, ny, nx := z+dz, y+dy, x+dx
						if !size.Contains(nz, ny, nx) {
							continue
						}
						j := size.Index(nz, ny, nx)
						if maxima[j] && seeds.Data[j] == 0 {
							seeds.Data[j] = next
							stack = append(stack, j)
						}
					}
				}
			}
		}
	}
	return seeds
}

// suppressSeeds drops any seed lying closer to a stronger accepted seed
// than its own distance-transform radius. Seeds are visited strongest
// first; each surviving plateau keeps its full extent.
func suppressSeeds(seeds *volume.LabelVolume, dt []float64, size volume.Shape, pitch []float64) *volume.LabelVolume {
	if pitch == nil {
		pitch = []float64{1, 1, 1}
	}

	type seedPoint struct {
		label   uint64
		index   int
		radius  float64
		z, y, x int
	}
	best := make(map[uint64]seedPoint)
	for i, label := range seeds.Data {
		if label == 0 {
			continue
		}
		if cur, found := best[label]; !found || dt[i] > cur.radius {
			z, y, x := size.Coord(i)
			best[label] = seedPoint{label, i, dt[i], z, y, x}
		}
	}
	points := make([]seedPoint, 0, len(best))
	for _, p := range best {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].radius != points[j].radius {
			return points[i].radius > points[j].radius
		}
		return points[i].index < points[j].index
	})

	accepted := points[:0]
	keep := make(map[uint64]bool, len(points))
	for _, p := range points {
		ok := true
		for _, a := range accepted {
			dz := float64(p.z-a.z) * pitch[0]
			dy := float64(p.y-a.y) * pitch[1]
			dx := float64(p.x-a.x) * pitch[2]
			if dz*dz+dy*dy+dx*dx < p.radius*p.radius {
				ok = false
				break
			}
		}
		if ok {
			accepted = append(accepted, p)
			keep[p.label] = true
		}
	}

	out := volume.NewLabelVolume(size)
	for i, label := range seeds.Data {
		if label != 0 && keep[label] {
			out.Data[i] = label
		}
	}
	return out
}
