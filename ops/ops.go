/*
	Package ops binds the segmentation and data-processing operations to
	the pipeline registry and provides the dispatch helpers the
	interactive surface calls: each helper bundles runtime inputs, static
	parameters and display metadata into an exec.Spec, starts it, and
	returns the future. Output layer names are versioned with
	pipeline.BuildNiceName so repeated applications never collide in the
	DAG.
*/
package ops

import (
	"fmt"

	"github.com/lorenzocerrone/plant-seg/dataprocessing"
	"github.com/lorenzocerrone/plant-seg/exec"
	"github.com/lorenzocerrone/plant-seg/pipeline"
	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/segmentation"
	"github.com/lorenzocerrone/plant-seg/segmentation/watershed"
	"github.com/lorenzocerrone/plant-seg/volume"
)

// Operation identities recorded into the DAG and used for replay.
const (
	OpDTWatershed          = "dt_watershed"
	OpGASP                 = "gasp"
	OpMutexWS              = "mutex_ws"
	OpMulticut             = "multicut"
	OpLiftedMulticutPmaps  = "lifted_multicut_from_nuclei_pmaps"
	OpLiftedMulticutSeg    = "lifted_multicut_from_nuclei_segmentation"
	OpNucleiFix            = "fix_over_under_segmentation_from_nuclei"
	OpGaussianSmoothing    = "gaussian_smoothing"
	OpNormalize01          = "normalize_01"
	OpImageRescale         = "image_rescale"
	OpImageCrop            = "image_crop"
	OpRelabelSegmentation  = "relabel_segmentation"
	OpSetBackgroundToValue = "set_background_to_value"
)

// RegisterAll binds every operation into the registry used for replay.
func RegisterAll(reg *pipeline.Registry) error {
	bindings := map[string]pipeline.OpFunc{
		OpDTWatershed:          replayDTWatershed,
		OpGASP:                 replayClustering(segmentation.LinkageAverage),
		OpMutexWS:              replayClustering(segmentation.LinkageMutexWatershed),
		OpMulticut:             replayMulticut,
		OpLiftedMulticutPmaps:  replayLiftedPmaps,
		OpLiftedMulticutSeg:    replayLiftedSeg,
		OpNucleiFix:            replayNucleiFix,
		OpGaussianSmoothing:    replayGaussianSmoothing,
		OpNormalize01:          replayNormalize01,
		OpImageRescale:         replayImageRescale,
		OpImageCrop:            replayImageCrop,
		OpRelabelSegmentation:  replayRelabel,
		OpSetBackgroundToValue: replaySetBackground,
	}
	for name, fn := range bindings {
		if err := reg.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// --- replay bindings ---

func imageInput(inputs []pipeline.Layer, i int) (*volume.Volume, error) {
	if i >= len(inputs) || inputs[i].Volume == nil {
		return nil, fmt.Errorf("input %d must be an image layer", i)
	}
	return inputs[i].Volume, nil
}

func labelsInput(inputs []pipeline.Layer, i int) (*volume.LabelVolume, error) {
	if i >= len(inputs) || inputs[i].Labels == nil {
		return nil, fmt.Errorf("input %d must be a labels layer", i)
	}
	return inputs[i].Labels, nil
}

func pixelPitch(params pipeline.Params) []float64 {
	raw, found := params["pixel_pitch"].([]interface{})
	if !found || len(raw) != 3 {
		return nil
	}
	pitch := make([]float64, 3)
	for d, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil
		}
		pitch[d] = f
	}
	return pitch
}

func watershedOptions(params pipeline.Params) segmentation.DTWatershedOptions {
	return segmentation.DTWatershedOptions{
		Options: watershed.Options{
			Threshold:              params.Float("threshold", 0.5),
			SigmaSeeds:             params.Float("sigma_seeds", 1.0),
			SigmaWeights:           params.Float("sigma_weights", 2.0),
			MinSize:                params.Int("min_size", 100),
			Alpha:                  params.Float("alpha", 1.0),
			PixelPitch:             pixelPitch(params),
			ApplyNonmaxSuppression: params.Bool("apply_nonmax_suppression", false),
		},
		Stacked:  params.Bool("stacked", false),
		NThreads: params.Int("n_threads", 0),
	}
}

func replayDTWatershed(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
	// Resolve the backend before any computation so a missing engine
	// surfaces as a configuration error.
	engine, err := segmentation.GetWatershedEngine(
		params.String("engine", segmentation.DefaultWatershedEngine))
	if err != nil {
		return pipeline.Layer{}, err
	}
	boundary, err := imageInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	opts := watershedOptions(params)

	// Nuclei intensity images are normalized and inverted so bright
	// nuclei become low "boundary" values, and everything outside them
	// is masked away.
	if params.Bool("nuclei", false) {
		boundary = volume.Invert(volume.Normalize01(boundary))
		mask := make([]bool, len(boundary.Data))
		for i, v := range boundary.Data {
			mask[i] = float64(v) < opts.Threshold
		}
		opts.Mask = mask
	}

	seg, err := engine.Segment(boundary, opts)
	if err != nil {
		return pipeline.Layer{}, err
	}
	return pipeline.Layer{Labels: seg}, nil
}

func replayClustering(linkage segmentation.Linkage) pipeline.OpFunc {
	return func(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
		boundary, err := imageInput(inputs, 0)
		if err != nil {
			return pipeline.Layer{}, err
		}
		var superpixels *volume.LabelVolume
		if len(inputs) > 1 {
			if superpixels, err = labelsInput(inputs, 1); err != nil {
				return pipeline.Layer{}, err
			}
		}
		seg, err := segmentation.GASP(boundary, superpixels, linkage,
			params.Float("beta", 0.5), params.Int("post_minsize", 100))
		if err != nil {
			return pipeline.Layer{}, err
		}
		return pipeline.Layer{Labels: seg}, nil
	}
}

func replayMulticut(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
	boundary, err := imageInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	superpixels, err := labelsInput(inputs, 1)
	if err != nil {
		return pipeline.Layer{}, err
	}
	seg, err := segmentation.Multicut(boundary, superpixels,
		params.Float("beta", 0.5), params.Int("post_minsize", 50))
	if err != nil {
		return pipeline.Layer{}, err
	}
	return pipeline.Layer{Labels: seg}, nil
}

func replayLiftedPmaps(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
	boundary, err := imageInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	nuclei, err := imageInput(inputs, 1)
	if err != nil {
		return pipeline.Layer{}, err
	}
	superpixels, err := labelsInput(inputs, 2)
	if err != nil {
		return pipeline.Layer{}, err
	}
	seg, err := segmentation.LiftedMulticutFromNucleiPmaps(boundary, nuclei, superpixels,
		params.Float("beta", 0.5), params.Int("post_minsize", 50))
	if err != nil {
		return pipeline.Layer{}, err
	}
	return pipeline.Layer{Labels: seg}, nil
}

func replayLiftedSeg(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
	boundary, err := imageInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	nuclei, err := labelsInput(inputs, 1)
	if err != nil {
		return pipeline.Layer{}, err
	}
	superpixels, err := labelsInput(inputs, 2)
	if err != nil {
		return pipeline.Layer{}, err
	}
	seg, err := segmentation.LiftedMulticutFromNucleiSegmentation(boundary, nuclei, superpixels,
		params.Float("beta", 0.5), params.Int("post_minsize", 50))
	if err != nil {
		return pipeline.Layer{}, err
	}
	return pipeline.Layer{Labels: seg}, nil
}

func replayNucleiFix(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
	cellSeg, err := labelsInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	nucleiSeg, err := labelsInput(inputs, 1)
	if err != nil {
		return pipeline.Layer{}, err
	}
	var boundary *volume.Volume
	if len(inputs) > 2 {
		if boundary, err = imageInput(inputs, 2); err != nil {
			return pipeline.Layer{}, err
		}
	}
	fixed, err := dataprocessing.FixOverUnderSegmentationFromNuclei(cellSeg, nucleiSeg, boundary,
		dataprocessing.NucleiFixOptions{
			ThresholdMerge: params.Float("threshold_merge", 0.33),
			ThresholdSplit: params.Float("threshold_split", 0.66),
		})
	if err != nil {
		return pipeline.Layer{}, err
	}
	return pipeline.Layer{Labels: fixed}, nil
}

func replayGaussianSmoothing(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
	image, err := imageInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	return pipeline.Layer{Volume: volume.GaussianSmooth(image, params.Float("sigma", 1.0))}, nil
}

func replayNormalize01(inputs []pipeline.Layer, _ pipeline.Params) (pipeline.Layer, error) {
	image, err := imageInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	return pipeline.Layer{Volume: volume.Normalize01(image)}, nil
}

func replayImageRescale(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
	factor := [3]float64{1, 1, 1}
	if raw := pixelPitch(pipeline.Params{"pixel_pitch": params["factor"]}); raw != nil {
		copy(factor[:], raw)
	}
	if inputs[0].Labels != nil {
		return pipeline.Layer{Labels: dataprocessing.LabelRescale(inputs[0].Labels, factor)}, nil
	}
	image, err := imageInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	order := dataprocessing.InterpolationOrder(params.Int("order", 1))
	return pipeline.Layer{Volume: dataprocessing.ImageRescale(image, factor, order)}, nil
}

func replayImageCrop(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
	image, err := imageInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	cropped, err := dataprocessing.ImageCrop(image, params.String("crop", ""))
	if err != nil {
		return pipeline.Layer{}, err
	}
	return pipeline.Layer{Volume: cropped}, nil
}

func replayRelabel(inputs []pipeline.Layer, _ pipeline.Params) (pipeline.Layer, error) {
	labels, err := labelsInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	return pipeline.Layer{Labels: dataprocessing.RelabelSegmentation(labels)}, nil
}

func replaySetBackground(inputs []pipeline.Layer, params pipeline.Params) (pipeline.Layer, error) {
	labels, err := labelsInput(inputs, 0)
	if err != nil {
		return pipeline.Layer{}, err
	}
	value := uint64(params.Int("value", 0))
	return pipeline.Layer{Labels: dataprocessing.SetBackgroundToValue(labels, value)}, nil
}

// --- interactive dispatch helpers ---

// NamedLayer couples a layer with the display identity the interactive
// surface knows it by.
type NamedLayer struct {
	Key      string
	Layer    pipeline.Layer
	Scale    [3]float64
	Metadata map[string]interface{}
}

func derivedProps(input NamedLayer, outName string) exec.LayerProps {
	return exec.LayerProps{
		Name:     outName,
		Scale:    input.Scale,
		Metadata: pseg.SelectLayerMetadata(input.Metadata),
	}
}

// StartClustering dispatches GASP, MutexWS or Multicut over an image and
// an over-segmentation, mirroring the interactive agglomeration widget.
func StartClustering(mode string, image, labels NamedLayer, beta float64, minsize int, rec *pipeline.Recorder, notifier exec.Notifier) (*exec.Future, error) {
	var op string
	var run func() (pipeline.Layer, error)
	switch mode {
	case "GASP":
		op = OpGASP
	case "MutexWS":
		op = OpMutexWS
	case "MultiCut":
		op = OpMulticut
	default:
		return nil, fmt.Errorf("unknown clustering mode %q", mode)
	}

	boundary := image.Layer.Volume
	superpixels := labels.Layer.Labels
	if boundary == nil || superpixels == nil {
		return nil, fmt.Errorf("clustering needs an image layer and a labels layer")
	}
	switch op {
	case OpGASP:
		run = func() (pipeline.Layer, error) {
			seg, err := segmentation.GASP(boundary, superpixels, segmentation.LinkageAverage, beta, minsize)
			return pipeline.Layer{Labels: seg}, err
		}
	case OpMutexWS:
		run = func() (pipeline.Layer, error) {
			seg, err := segmentation.MutexWS(boundary, superpixels, beta, minsize)
			return pipeline.Layer{Labels: seg}, err
		}
	case OpMulticut:
		run = func() (pipeline.Layer, error) {
			seg, err := segmentation.Multicut(boundary, superpixels, beta, minsize)
			return pipeline.Layer{Labels: seg}, err
		}
	}

	outName := pipeline.BuildNiceName(image.Key, mode)
	return exec.Start(exec.Spec{
		Op:        op,
		Run:       run,
		InputKeys: []string{image.Key, labels.Key},
		OutputKey: outName,
		Params:    pipeline.Params{"beta": beta, "post_minsize": minsize},
		Props:     derivedProps(image, outName),
		StepName:  mode + " Clustering",
	}, rec, notifier), nil
}

// DTWatershedConfig is the interactive parameter set of the watershed
// widget.
type DTWatershedConfig struct {
	// Engine selects the watershed backend; empty means the built-in
	// distance-transform engine.
	Engine                 string
	Stacked                bool
	Threshold              float64
	MinSize                int
	SigmaSeeds             float64
	SigmaWeights           float64
	Alpha                  float64
	PixelPitch             []float64
	ApplyNonmaxSuppression bool
	Nuclei                 bool
	NThreads               int
}

// StartDTWatershed dispatches the distance-transform watershed.
func StartDTWatershed(image NamedLayer, cfg DTWatershedConfig, rec *pipeline.Recorder, notifier exec.Notifier) (*exec.Future, error) {
	if image.Layer.Volume == nil {
		return nil, fmt.Errorf("watershed needs an image layer")
	}
	params := pipeline.Params{
		"threshold":                cfg.Threshold,
		"min_size":                 cfg.MinSize,
		"stacked":                  cfg.Stacked,
		"sigma_seeds":              cfg.SigmaSeeds,
		"sigma_weights":            cfg.SigmaWeights,
		"alpha":                    cfg.Alpha,
		"apply_nonmax_suppression": cfg.ApplyNonmaxSuppression,
		"nuclei":                   cfg.Nuclei,
		"n_threads":                cfg.NThreads,
	}
	if cfg.PixelPitch != nil {
		pitch := make([]interface{}, len(cfg.PixelPitch))
		for i, p := range cfg.PixelPitch {
			pitch[i] = p
		}
		params["pixel_pitch"] = pitch
	}
	if cfg.Engine != "" {
		params["engine"] = cfg.Engine
	}

	inputs := []pipeline.Layer{image.Layer}
	outName := pipeline.BuildNiceName(image.Key, "dtWS")
	return exec.Start(exec.Spec{
		Op:        OpDTWatershed,
		Run:       func() (pipeline.Layer, error) { return replayDTWatershed(inputs, params) },
		InputKeys: []string{image.Key},
		OutputKey: outName,
		Params:    params,
		Props:     derivedProps(image, outName),
		StepName:  "Watershed Segmentation",
	}, rec, notifier), nil
}

// StartLiftedMulticut dispatches the lifted multicut, picking the variant
// from the nuclei layer kind. A nuclei layer that is neither image nor
// labels is a configuration error.
func StartLiftedMulticut(image, nuclei, labels NamedLayer, beta float64, minsize int, rec *pipeline.Recorder, notifier exec.Notifier) (*exec.Future, error) {
	boundary := image.Layer.Volume
	superpixels := labels.Layer.Labels
	if boundary == nil || superpixels == nil {
		return nil, fmt.Errorf("lifted multicut needs an image layer and a labels layer")
	}

	var op string
	var run func() (pipeline.Layer, error)
	switch {
	case nuclei.Layer.Volume != nil:
		op = OpLiftedMulticutPmaps
		pmaps := nuclei.Layer.Volume
		run = func() (pipeline.Layer, error) {
			seg, err := segmentation.LiftedMulticutFromNucleiPmaps(boundary, pmaps, superpixels, beta, minsize)
			return pipeline.Layer{Labels: seg}, err
		}
	case nuclei.Layer.Labels != nil:
		op = OpLiftedMulticutSeg
		nseg := nuclei.Layer.Labels
		run = func() (pipeline.Layer, error) {
			seg, err := segmentation.LiftedMulticutFromNucleiSegmentation(boundary, nseg, superpixels, beta, minsize)
			return pipeline.Layer{Labels: seg}, err
		}
	default:
		return nil, fmt.Errorf("nuclei layer %q must be either an image or a labels layer", nuclei.Key)
	}

	outName := pipeline.BuildNiceName(image.Key, "LiftedMultiCut")
	return exec.Start(exec.Spec{
		Op:        op,
		Run:       run,
		InputKeys: []string{image.Key, nuclei.Key, labels.Key},
		OutputKey: outName,
		Params:    pipeline.Params{"beta": beta, "post_minsize": minsize},
		Props:     derivedProps(image, outName),
		StepName:  "Lifted Multicut Clustering",
	}, rec, notifier), nil
}

// StartNucleiFix dispatches the nuclei-guided conflict resolution.
func StartNucleiFix(cellSeg, nucleiSeg NamedLayer, boundary *NamedLayer, thresholdMerge, thresholdSplit float64, rec *pipeline.Recorder, notifier exec.Notifier) (*exec.Future, error) {
	if cellSeg.Layer.Labels == nil || nucleiSeg.Layer.Labels == nil {
		return nil, fmt.Errorf("nuclei fix needs two labels layers")
	}
	inputs := []pipeline.Layer{cellSeg.Layer, nucleiSeg.Layer}
	inputKeys := []string{cellSeg.Key, nucleiSeg.Key}
	if boundary != nil {
		if boundary.Layer.Volume == nil {
			return nil, fmt.Errorf("boundary layer %q must be an image", boundary.Key)
		}
		inputs = append(inputs, boundary.Layer)
		inputKeys = append(inputKeys, boundary.Key)
	}
	params := pipeline.Params{"threshold_merge": thresholdMerge, "threshold_split": thresholdSplit}

	outName := pipeline.BuildNiceName(cellSeg.Key, "NucleiSegFix")
	return exec.Start(exec.Spec{
		Op:        OpNucleiFix,
		Run:       func() (pipeline.Layer, error) { return replayNucleiFix(inputs, params) },
		InputKeys: inputKeys,
		OutputKey: outName,
		Params:    params,
		Props:     derivedProps(cellSeg, outName),
		StepName:  "Fix Over / Under segmentation",
	}, rec, notifier), nil
}
