package segmentation

import (
	"fmt"

	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/segmentation/multicut"
	"github.com/lorenzocerrone/plant-seg/segmentation/rag"
	"github.com/lorenzocerrone/plant-seg/volume"
)

// Linkage selects the agglomeration criterion for GASP.
type Linkage string

const (
	// LinkageAverage merges by running average interaction.
	LinkageAverage Linkage = "average"

	// LinkageMutexWatershed forbids merges across already-decided splits.
	LinkageMutexWatershed Linkage = "mutex_watershed"
)

// GASP runs agglomerative clustering over affinities derived from the
// boundary map along the three axis-aligned offsets. Boundary
// probabilities are inverted into merge affinities and biased by beta: low
// beta favors merging (under-segmentation), high beta favors splitting.
// With superpixels the agglomeration starts from that partition and can
// only coarsen it; with nil superpixels it runs at voxel level.
func GASP(boundary *volume.Volume, superpixels *volume.LabelVolume, linkage Linkage, beta float64, postMinSize int) (*volume.LabelVolume, error) {
	if err := validateBeta(beta); err != nil {
		return nil, err
	}
	if linkage != LinkageAverage && linkage != LinkageMutexWatershed {
		return nil, fmt.Errorf("unsupported linkage criteria %q", linkage)
	}
	if superpixels != nil {
		if err := volume.CheckSameShape(boundary.Size, superpixels.Size); err != nil {
			return nil, err
		}
	}
	timelog := pseg.NewTimeLog()

	var nodes []uint64
	var edges []multicut.WeightedEdge
	var err error
	if superpixels != nil {
		nodes, edges, err = regionAffinityGraph(boundary, superpixels, beta)
	} else {
		nodes, edges = voxelAffinityGraph(boundary, beta)
	}
	if err != nil {
		return nil, err
	}

	var assignment map[uint64]uint64
	if linkage == LinkageMutexWatershed {
		assignment = multicut.AgglomerateMutex(nodes, edges)
	} else {
		assignment = multicut.AgglomerateAverage(nodes, edges)
	}

	var seg *volume.LabelVolume
	if superpixels != nil {
		seg = rag.ProjectNodeLabels(superpixels, assignment)
	} else {
		seg = volume.NewLabelVolume(boundary.Size)
		for i := range seg.Data {
			seg.Data[i] = assignment[uint64(i)] + 1 // voxel ids are 0-based
		}
	}

	seg = postFilter(seg, boundary, postMinSize)
	seg, n := volume.RelabelConsecutive(seg)
	timelog.Debugf("gasp (%s) produced %d segments", linkage, n)
	return seg, nil
}

// MutexWS is GASP with the mutex-watershed linkage.
func MutexWS(boundary *volume.Volume, superpixels *volume.LabelVolume, beta float64, postMinSize int) (*volume.LabelVolume, error) {
	return GASP(boundary, superpixels, LinkageMutexWatershed, beta, postMinSize)
}

// voxelAffinityGraph builds the grid graph: one node per voxel, edges
// along +z/+y/+x with signed weight affinity - beta, where affinity is one
// minus the mean boundary probability of the two endpoints.
func voxelAffinityGraph(boundary *volume.Volume, beta float64) ([]uint64, []multicut.WeightedEdge) {
	size := boundary.Size
	n := size.NumVoxels()
	nodes := make([]uint64, n)
	for i := range nodes {
		nodes[i] = uint64(i)
	}

	edges := make([]multicut.WeightedEdge, 0, 3*n)
	addEdge := func(i, j int) {
		affinity := 1 - float64(boundary.Data[i]+boundary.Data[j])/2
		edges = append(edges, multicut.WeightedEdge{
			U: uint64(i), V: uint64(j), Weight: affinity - beta, Size: 1,
		})
	}
	for z := 0; z < size[0]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[2]; x++ {
				i := size.Index(z, y, x)
				if x+1 < size[2] {
					addEdge(i, size.Index(z, y, x+1))
				}
				if y+1 < size[1] {
					addEdge(i, size.Index(z, y+1, x))
				}
				if z+1 < size[0] {
					addEdge(i, size.Index(z+1, y, x))
				}
			}
		}
	}
	return nodes, edges
}

// regionAffinityGraph accumulates the voxel affinities over the superpixel
// partition, yielding one weighted edge per touching region pair.
func regionAffinityGraph(boundary *volume.Volume, superpixels *volume.LabelVolume, beta float64) ([]uint64, []multicut.WeightedEdge, error) {
	g, err := rag.Compute(superpixels, boundary)
	if err != nil {
		return nil, nil, err
	}
	edges := make([]multicut.WeightedEdge, 0, len(g.Edges))
	for _, e := range g.Edges {
		affinity := 1 - e.MeanProbability()
		edges = append(edges, multicut.WeightedEdge{
			U: e.U, V: e.V,
			Weight: (affinity - beta) * float64(e.Size),
			Size:   float64(e.Size),
		})
	}
	return g.Nodes(), edges, nil
}
