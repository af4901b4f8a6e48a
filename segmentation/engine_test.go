package segmentation

import (
	"reflect"
	"strings"
	"testing"

	"github.com/lorenzocerrone/plant-seg/volume"
)

func TestDefaultWatershedEngine(t *testing.T) {
	engine, err := GetWatershedEngine(DefaultWatershedEngine)
	if err != nil {
		t.Fatalf("default engine unavailable: %v", err)
	}
	if engine.Name() != DefaultWatershedEngine {
		t.Fatalf("engine name %q, want %q", engine.Name(), DefaultWatershedEngine)
	}

	boundary := volume.NewVolume(volume.Shape{1, 1, 9})
	copy(boundary.Data, []float32{0, 0, 0, 1, 1, 1, 0, 0, 0})
	opts := DTWatershedOptions{}
	opts.Threshold = 0.5
	opts.SigmaSeeds = 1.0

	got, err := engine.Segment(boundary, opts)
	if err != nil {
		t.Fatalf("engine segment failed: %v", err)
	}
	want, err := DTWatershed(boundary, opts)
	if err != nil {
		t.Fatalf("dt watershed failed: %v", err)
	}
	if !reflect.DeepEqual(got.Data, want.Data) {
		t.Fatalf("engine result %v differs from direct watershed %v", got.Data, want.Data)
	}
}

func TestUnavailableWatershedEngineIsConfigError(t *testing.T) {
	_, err := GetWatershedEngine("itk")
	if err == nil {
		t.Fatalf("unavailable engine resolved")
	}
	if !strings.Contains(err.Error(), `"itk"`) || !strings.Contains(err.Error(), "not available") {
		t.Fatalf("error should name the missing engine: %v", err)
	}
}

type stubEngine struct{ name string }

func (e stubEngine) Name() string { return e.name }
func (e stubEngine) Segment(boundary *volume.Volume, opts DTWatershedOptions) (*volume.LabelVolume, error) {
	return volume.NewLabelVolume(boundary.Size), nil
}

func TestRegisterWatershedEngine(t *testing.T) {
	e := stubEngine{name: "stub"}
	if err := RegisterWatershedEngine(e); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolved, err := GetWatershedEngine("stub")
	if err != nil {
		t.Fatalf("registered engine unavailable: %v", err)
	}
	if resolved.Name() != "stub" {
		t.Fatalf("resolved engine %q", resolved.Name())
	}

	if err := RegisterWatershedEngine(e); err == nil {
		t.Fatalf("duplicate registration accepted")
	}
	if err := RegisterWatershedEngine(stubEngine{name: DefaultWatershedEngine}); err == nil {
		t.Fatalf("shadowing the built-in engine accepted")
	}

	names := WatershedEngineNames()
	found := map[string]bool{}
	for _, name := range names {
		found[name] = true
	}
	if !found[DefaultWatershedEngine] || !found["stub"] {
		t.Fatalf("engine names %v missing expected entries", names)
	}
}
