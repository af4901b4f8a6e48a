/*
	Package pipeline records the chain of image-processing operations
	executed during an interactive session as an append-only DAG keyed by
	output layer name, so the pipeline can later be replayed as a batch
	job. It also provides the output-name versioning scheme that keeps
	step keys unique, the operation registry used for replay, and the
	JSON workflow format consumed by the batch-export collaborator.
*/
package pipeline

import (
	"fmt"
	"sync"
)

// Step is one recorded invocation of a processing operation. Steps are
// immutable once appended and reference layers by name only.
type Step struct {
	// Op is the registered identity of the executed function.
	Op string `json:"op"`

	// InputKeys are the names of the input layers, in call order.
	InputKeys []string `json:"input_keys"`

	// OutputKey names the produced layer. Uniqueness is the caller's
	// responsibility (see BuildNiceName); the recorder is a plain log.
	OutputKey string `json:"output_key"`

	// Params are the static (configuration) arguments of the call.
	Params Params `json:"static_params"`

	// Name is the human-readable step description.
	Name string `json:"step_name"`
}

// Recorder is the process-wide append-only step log. Appends are safe
// under concurrent completions; append order is completion order. A
// recorder is created at session start and Reset at session end, and is
// passed explicitly so tests can run independent logs.
type Recorder struct {
	mu       sync.Mutex
	steps    []Step
	byOutput map[string]int
}

// NewRecorder returns an empty step log.
func NewRecorder() *Recorder {
	return &Recorder{byOutput: make(map[string]int)}
}

// AddStep appends one completed operation. Entries are never deleted
// except by Reset.
func (r *Recorder) AddStep(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOutput[step.OutputKey] = len(r.steps)
	r.steps = append(r.steps, step)
}

// Steps returns a copy of the log in insertion order.
func (r *Recorder) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = nil
	r.byOutput = make(map[string]int)
}

// Subgraph walks backward from outputKey and returns the minimal set of
// steps required to recompute it from named inputs, in dependency order.
func (r *Recorder) Subgraph(outputKey string) ([]Step, error) {
	return SubgraphSteps(r.Steps(), outputKey)
}

// SubgraphSteps is Subgraph over an explicit step list (e.g. an imported
// workflow). Input keys that are not outputs of any listed step are
// treated as raw inputs supplied at replay time.
func SubgraphSteps(steps []Step, outputKey string) ([]Step, error) {
	byOutput := make(map[string]int, len(steps))
	for i, s := range steps {
		byOutput[s.OutputKey] = i
	}
	target, found := byOutput[outputKey]
	if !found {
		return nil, fmt.Errorf("no recorded step produces layer %q", outputKey)
	}

	needed := make(map[int]bool)
	var visit func(i int)
	visit = func(i int) {
		if needed[i] {
			return
		}
		needed[i] = true
		for _, key := range steps[i].InputKeys {
			if j, ok := byOutput[key]; ok {
				visit(j)
			}
		}
	}
	visit(target)

	// Log order is execution order, so filtering preserves dependency order.
	out := make([]Step, 0, len(needed))
	for i, s := range steps {
		if needed[i] {
			out = append(out, s)
		}
	}
	return out, nil
}
