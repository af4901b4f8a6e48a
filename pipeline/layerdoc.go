package pipeline

import (
	"fmt"

	"github.com/lorenzocerrone/plant-seg/volume"
)

// LayerDoc is the JSON wire form of a layer, used by the HTTP API and the
// command-line replay tool.
type LayerDoc struct {
	Name   string    `json:"name,omitempty"`
	Kind   string    `json:"kind"`
	Size   [3]int    `json:"size"`
	Values []float32 `json:"values,omitempty"`
	Labels []uint64  `json:"labels,omitempty"`
}

// DocFromLayer snapshots a layer into its wire form.
func DocFromLayer(name string, layer Layer) LayerDoc {
	doc := LayerDoc{Name: name, Kind: layer.Kind()}
	if layer.Labels != nil {
		doc.Size = layer.Labels.Size
		doc.Labels = layer.Labels.Data
	} else if layer.Volume != nil {
		doc.Size = layer.Volume.Size
		doc.Values = layer.Volume.Data
	}
	return doc
}

// ToLayer validates the wire form and rebuilds the layer.
func (doc LayerDoc) ToLayer() (Layer, error) {
	shape := volume.Shape(doc.Size)
	n := shape.NumVoxels()
	if n <= 0 {
		return Layer{}, fmt.Errorf("layer size %v is not a positive shape", doc.Size)
	}
	switch doc.Kind {
	case "labels":
		if len(doc.Labels) != n {
			return Layer{}, fmt.Errorf("labels length %d does not match size %v", len(doc.Labels), doc.Size)
		}
		return Layer{Labels: &volume.LabelVolume{Size: shape, Data: doc.Labels}}, nil
	case "image":
		if len(doc.Values) != n {
			return Layer{}, fmt.Errorf("values length %d does not match size %v", len(doc.Values), doc.Size)
		}
		return Layer{Volume: &volume.Volume{Size: shape, Data: doc.Values}}, nil
	default:
		return Layer{}, fmt.Errorf("layer kind must be %q or %q, got %q", "image", "labels", doc.Kind)
	}
}
