/*
	Package exec runs segmentation and processing operations off the
	interactive thread. Each dispatched operation gets its own goroutine
	and a future the caller can wait on; on success the invocation is
	appended to the pipeline DAG and announced through the configured
	notifier. Failures surface on the future and are never recorded or
	retried. There is no cancellation: a dispatched operation runs to
	completion or failure.
*/
package exec

import (
	"fmt"

	"github.com/twinj/uuid"

	"github.com/lorenzocerrone/plant-seg/pipeline"
	"github.com/lorenzocerrone/plant-seg/pseg"
)

// LayerProps is the display metadata delivered with a result.
type LayerProps struct {
	Name     string                 `json:"name"`
	Scale    [3]float64             `json:"scale"`
	Metadata map[string]interface{} `json:"metadata"`
}

// LayerData is the completion payload: the produced array, its display
// metadata, and the display kind ("image" or "labels").
type LayerData struct {
	Layer pipeline.Layer
	Props LayerProps
	Kind  string
}

// Future is the handle returned by Start. It carries a single completion
// event with either a result or an error.
type Future struct {
	done   chan struct{}
	result LayerData
	err    error
}

// Done returns a channel closed on completion.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until completion and returns the payload or the failure.
func (f *Future) Result() (LayerData, error) {
	<-f.done
	return f.result, f.err
}

// Notifier receives lifecycle announcements for dispatched operations.
type Notifier interface {
	Started(jobID, stepName string)
	Completed(jobID, stepName, outputKey string)
	Failed(jobID, stepName string, err error)
}

// LogNotifier reports through the package logger.
type LogNotifier struct{}

func (LogNotifier) Started(jobID, stepName string) {
	pseg.Infof("job %s: %s computation started\n", jobID, stepName)
}

func (LogNotifier) Completed(jobID, stepName, outputKey string) {
	pseg.Infof("job %s: %s computation complete -> %s\n", jobID, stepName, outputKey)
}

func (LogNotifier) Failed(jobID, stepName string, err error) {
	pseg.Errorf("job %s: %s failed: %v\n", jobID, stepName, err)
}

// Spec describes one dispatch: the operation identity and closure, the
// layer names involved, the static parameters to record, and the display
// metadata to deliver.
type Spec struct {
	// Op is the registered identity recorded into the DAG.
	Op string

	// Run performs the computation over the already-bound runtime inputs.
	Run func() (pipeline.Layer, error)

	// InputKeys and OutputKey name the layers involved.
	InputKeys []string
	OutputKey string

	// Params are the static arguments, recorded verbatim.
	Params pipeline.Params

	// Props is the display metadata for the produced layer.
	Props LayerProps

	// StepName is the human-readable description.
	StepName string

	// SkipRecord suppresses DAG recording (used for display-only steps).
	SkipRecord bool
}

// Start dispatches the operation on its own goroutine and returns
// immediately. recorder may be shared across concurrent dispatches; its
// append is the only shared state and is internally synchronized.
func Start(spec Spec, recorder *pipeline.Recorder, notifier Notifier) *Future {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	future := &Future{done: make(chan struct{})}
	jobID := uuid.NewV4().String()

	go func() {
		defer close(future.done)
		timelog := pseg.NewTimeLog()
		notifier.Started(jobID, spec.StepName)

		layer, err := run(spec.Run)
		if err != nil {
			future.err = err
			notifier.Failed(jobID, spec.StepName, err)
			return
		}

		if recorder != nil && !spec.SkipRecord {
			recorder.AddStep(pipeline.Step{
				Op:        spec.Op,
				InputKeys: spec.InputKeys,
				OutputKey: spec.OutputKey,
				Params:    spec.Params,
				Name:      spec.StepName,
			})
		}
		future.result = LayerData{Layer: layer, Props: spec.Props, Kind: layer.Kind()}
		notifier.Completed(jobID, spec.StepName, spec.OutputKey)
		timelog.Infof("job %s (%s) finished", jobID, spec.StepName)
	}()
	return future
}

// run executes the closure, converting panics inside worker goroutines
// into failed futures instead of taking down the process.
func run(fn func() (pipeline.Layer, error)) (layer pipeline.Layer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return fn()
}
