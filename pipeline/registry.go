package pipeline

import (
	"fmt"
	"sync"

	"github.com/lorenzocerrone/plant-seg/volume"
)

// Layer is a named array traveling through the pipeline: exactly one of
// Volume or Labels is set.
type Layer struct {
	Volume *volume.Volume
	Labels *volume.LabelVolume
}

// Kind returns the display-layer kind string for this layer.
func (l Layer) Kind() string {
	if l.Labels != nil {
		return "labels"
	}
	return "image"
}

// Valid reports whether exactly one array is present.
func (l Layer) Valid() bool {
	return (l.Volume != nil) != (l.Labels != nil)
}

// Params are the static arguments of a step. They round-trip through
// JSON, so numbers arrive as float64; the typed accessors below recover
// the intended types with a default for missing keys.
type Params map[string]interface{}

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// OpFunc executes one registered operation at replay time. inputs follow
// the step's InputKeys order.
type OpFunc func(inputs []Layer, params Params) (Layer, error)

// Registry maps operation identities to replay functions. The DAG stores
// only the identity string, so replay needs the registry that the
// interactive session registered its operations into.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]OpFunc
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]OpFunc)}
}

// Register binds an operation identity. Re-registering an existing name
// is a configuration error.
func (r *Registry) Register(name string, fn OpFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[name]; exists {
		return fmt.Errorf("operation %q already registered", name)
	}
	r.ops[name] = fn
	return nil
}

// Get looks up an operation by identity.
func (r *Registry) Get(name string) (OpFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, found := r.ops[name]
	return fn, found
}

// Names returns the registered operation identities.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	return names
}
