/*
	Package segmentation composes the watershed seeding engine, the region
	adjacency graph builder and the graph partition solvers into the public
	segmentation operations: distance-transform watershed, agglomerative
	clustering (GASP and mutex watershed), multicut, and the two lifted
	multicut variants driven by nuclei evidence. All operations are pure
	transforms from probability maps to label volumes; inputs are never
	mutated.
*/
package segmentation

import (
	"fmt"

	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/segmentation/multicut"
	"github.com/lorenzocerrone/plant-seg/segmentation/rag"
	"github.com/lorenzocerrone/plant-seg/segmentation/watershed"
	"github.com/lorenzocerrone/plant-seg/volume"
)

// LiftedCostScale multiplies the maximum local cost magnitude to obtain
// the lifted attraction/repulsion costs for the nuclei-segmentation
// variant. Empirical default, overridable through rag.LiftedOptions.
const LiftedCostScale = 5.0

// DTWatershedOptions configures the watershed operation of the functional
// layer, adding slice-wise execution on top of the engine options.
type DTWatershedOptions struct {
	watershed.Options
	Stacked  bool
	NThreads int
}

// DTWatershed runs the distance-transform watershed either on the full
// volume or slice-wise when Stacked is set.
func DTWatershed(boundary *volume.Volume, opts DTWatershedOptions) (*volume.LabelVolume, error) {
	if opts.Stacked {
		return watershed.Stacked(boundary, opts.Options, opts.NThreads)
	}
	return watershed.DistanceTransformWatershed(boundary, opts.Options)
}

// Multicut builds a RAG over the superpixels, converts mean boundary
// probabilities into beta-biased edge costs, and solves the global
// multicut with the Kernighan-Lin-style heuristic. The result never has
// more labels than the superpixel input.
func Multicut(boundary *volume.Volume, superpixels *volume.LabelVolume, beta float64, postMinSize int) (*volume.LabelVolume, error) {
	if err := validateBeta(beta); err != nil {
		return nil, err
	}
	timelog := pseg.NewTimeLog()

	g, err := rag.Compute(superpixels, boundary)
	if err != nil {
		return nil, err
	}
	costs := rag.EdgeCosts(g, beta)
	nodeLabels := multicut.Solve(g, costs)

	seg := rag.ProjectNodeLabels(superpixels, nodeLabels)
	seg = postFilter(seg, boundary, postMinSize)
	seg, n := volume.RelabelConsecutive(seg)
	timelog.Debugf("multicut over %d regions produced %d segments", g.NumNodes(), n)
	return seg, nil
}

// LiftedMulticut dispatches on the nuclei evidence variant. Anything that
// is neither a probability map nor a discrete segmentation is a
// configuration error.
func LiftedMulticut(boundary *volume.Volume, nuclei NucleiEvidence, superpixels *volume.LabelVolume, beta float64, postMinSize int) (*volume.LabelVolume, error) {
	switch nuclei.kind {
	case nucleiProbabilities:
		return LiftedMulticutFromNucleiPmaps(boundary, nuclei.pmaps, superpixels, beta, postMinSize)
	case nucleiSegmentation:
		return LiftedMulticutFromNucleiSegmentation(boundary, nuclei.seg, superpixels, beta, postMinSize)
	default:
		return nil, fmt.Errorf("nuclei input must be a probability map or a segmentation")
	}
}

// LiftedMulticutFromNucleiPmaps augments the multicut problem with lifted
// constraints propagated from a nuclei probability map, then solves the
// combined local+lifted problem.
func LiftedMulticutFromNucleiPmaps(boundary, nucleiPmaps *volume.Volume, superpixels *volume.LabelVolume, beta float64, postMinSize int) (*volume.LabelVolume, error) {
	if err := validateBeta(beta); err != nil {
		return nil, err
	}
	timelog := pseg.NewTimeLog()

	g, err := rag.Compute(superpixels, boundary)
	if err != nil {
		return nil, err
	}
	costs := rag.EdgeCosts(g, beta)

	lifted, err := rag.LiftedFromProbabilities(g, superpixels, nucleiPmaps, rag.DefaultLiftedOptions())
	if err != nil {
		return nil, err
	}
	nodeLabels := multicut.SolveLifted(g, costs, lifted)

	seg := rag.ProjectNodeLabels(superpixels, nodeLabels)
	seg = postFilter(seg, boundary, postMinSize)
	seg, n := volume.RelabelConsecutive(seg)
	timelog.Debugf("lifted multicut (pmaps) over %d regions, %d lifted edges, %d segments",
		g.NumNodes(), len(lifted), n)
	return seg, nil
}

// LiftedMulticutFromNucleiSegmentation derives the lifted constraints from
// region overlap with a discrete nuclei segmentation: regions sharing a
// nucleus attract, regions on different nuclei repel, both scaled to
// dominate the local costs.
func LiftedMulticutFromNucleiSegmentation(boundary *volume.Volume, nucleiSeg, superpixels *volume.LabelVolume, beta float64, postMinSize int) (*volume.LabelVolume, error) {
	if err := validateBeta(beta); err != nil {
		return nil, err
	}
	timelog := pseg.NewTimeLog()

	g, err := rag.Compute(superpixels, boundary)
	if err != nil {
		return nil, err
	}
	costs := rag.EdgeCosts(g, beta)

	opts := rag.DefaultLiftedOptions()
	opts.ScaleCosts(costs, LiftedCostScale)
	lifted, err := rag.LiftedFromSegmentation(g, superpixels, nucleiSeg, opts)
	if err != nil {
		return nil, err
	}
	nodeLabels := multicut.SolveLifted(g, costs, lifted)

	seg := rag.ProjectNodeLabels(superpixels, nodeLabels)
	seg = postFilter(seg, boundary, postMinSize)
	seg, n := volume.RelabelConsecutive(seg)
	timelog.Debugf("lifted multicut (segmentation) over %d regions, %d lifted edges, %d segments",
		g.NumNodes(), len(lifted), n)
	return seg, nil
}

// ApplySizeFilter is the post-hoc size filter shared by all operations:
// segments below minSize merge into their most similar neighbor by
// boundary cost, and labels come back contiguous from 1.
func ApplySizeFilter(labels *volume.LabelVolume, boundary *volume.Volume, minSize int) *volume.LabelVolume {
	out := postFilter(labels, boundary, minSize)
	out, _ = volume.RelabelConsecutive(out)
	return out
}

func postFilter(labels *volume.LabelVolume, boundary *volume.Volume, minSize int) *volume.LabelVolume {
	if minSize <= 0 {
		return labels
	}
	return watershed.ApplySizeFilter(labels, boundary, minSize)
}

func validateBeta(beta float64) error {
	if beta <= 0 || beta >= 1 {
		return fmt.Errorf("beta %g outside (0, 1)", beta)
	}
	return nil
}
