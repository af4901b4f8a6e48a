package segmentation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lorenzocerrone/plant-seg/volume"
)

// WatershedEngine is a pluggable seeded-watershed backend. The built-in
// distance-transform engine is always available; alternative backends
// (e.g. an ITK binding) register themselves at startup, so selecting a
// backend that was not compiled into this build fails fast as a
// configuration error instead of surfacing mid-computation.
type WatershedEngine interface {
	// Name is the identity the engine is selected by.
	Name() string

	// Segment runs the seeded watershed over a boundary probability map.
	Segment(boundary *volume.Volume, opts DTWatershedOptions) (*volume.LabelVolume, error)
}

// DefaultWatershedEngine names the built-in distance-transform engine.
const DefaultWatershedEngine = "dtws"

var (
	enginesMu sync.RWMutex
	engines   = map[string]WatershedEngine{DefaultWatershedEngine: dtwsEngine{}}
)

// RegisterWatershedEngine makes an engine selectable by name. Registering
// an already-taken name is a configuration error.
func RegisterWatershedEngine(e WatershedEngine) error {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, exists := engines[e.Name()]; exists {
		return fmt.Errorf("watershed engine %q already registered", e.Name())
	}
	engines[e.Name()] = e
	return nil
}

// GetWatershedEngine resolves an engine by name. An unknown name is a
// configuration error: the engine may exist upstream but is not part of
// this build.
func GetWatershedEngine(name string) (WatershedEngine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	if e, found := engines[name]; found {
		return e, nil
	}
	return nil, fmt.Errorf("watershed engine %q is not available in this build (available: %v)",
		name, engineNames())
}

// WatershedEngineNames lists the engines available in this build.
func WatershedEngineNames() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return engineNames()
}

func engineNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dtwsEngine is the built-in distance-transform watershed backend.
type dtwsEngine struct{}

func (dtwsEngine) Name() string { return DefaultWatershedEngine }

func (dtwsEngine) Segment(boundary *volume.Volume, opts DTWatershedOptions) (*volume.LabelVolume, error) {
	return DTWatershed(boundary, opts)
}
