package segmentation

import "github.com/lorenzocerrone/plant-seg/volume"

type nucleiKind int

const (
	nucleiInvalid nucleiKind = iota
	nucleiProbabilities
	nucleiSegmentation
)

// NucleiEvidence is the tagged variant of nuclei input accepted by the
// lifted multicut: either a probability map or a discrete segmentation.
// The zero value is invalid and rejected as a configuration error.
type NucleiEvidence struct {
	kind  nucleiKind
	pmaps *volume.Volume
	seg   *volume.LabelVolume
}

// NucleiFromProbabilities wraps a nuclei probability map.
func NucleiFromProbabilities(pmaps *volume.Volume) NucleiEvidence {
	return NucleiEvidence{kind: nucleiProbabilities, pmaps: pmaps}
}

// NucleiFromSegmentation wraps a discrete nuclei instance segmentation.
func NucleiFromSegmentation(seg *volume.LabelVolume) NucleiEvidence {
	return NucleiEvidence{kind: nucleiSegmentation, seg: seg}
}
