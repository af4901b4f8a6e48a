package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// WorkflowVersion tags exported workflow documents.
const WorkflowVersion = "1.0"

// workflowSchema validates workflow documents handed to the batch-export
// collaborator before any replay work starts.
const workflowSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["version", "steps"],
	"properties": {
		"version": {"type": "string"},
		"steps": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["op", "input_keys", "output_key"],
				"properties": {
					"op": {"type": "string", "minLength": 1},
					"input_keys": {"type": "array", "items": {"type": "string"}},
					"output_key": {"type": "string", "minLength": 1},
					"static_params": {"type": "object"},
					"step_name": {"type": "string"}
				}
			}
		}
	}
}`

var compiledWorkflowSchema = jsonschema.MustCompileString("workflow.json", workflowSchema)

// Workflow is the exported, replayable form of the step log.
type Workflow struct {
	Version string `json:"version"`
	Steps   []Step `json:"steps"`
}

// Export snapshots the recorder into a workflow document.
func (r *Recorder) Export() Workflow {
	return Workflow{Version: WorkflowVersion, Steps: r.Steps()}
}

// EncodeWorkflow serializes a workflow as indented JSON.
func EncodeWorkflow(w Workflow) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeWorkflow parses and schema-validates a workflow document.
func DecodeWorkflow(data []byte) (Workflow, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Workflow{}, fmt.Errorf("workflow is not valid JSON: %w", err)
	}
	if err := compiledWorkflowSchema.Validate(raw); err != nil {
		return Workflow{}, fmt.Errorf("workflow failed schema validation: %w", err)
	}
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

// Replay recomputes the target layer of a workflow from the supplied raw
// input layers, running only the minimal subgraph of steps that the
// target depends on. Every step's operation must be registered.
func Replay(w Workflow, target string, inputs map[string]Layer, reg *Registry) (Layer, error) {
	steps, err := SubgraphSteps(w.Steps, target)
	if err != nil {
		return Layer{}, err
	}

	layers := make(map[string]Layer, len(inputs)+len(steps))
	for name, layer := range inputs {
		if !layer.Valid() {
			return Layer{}, fmt.Errorf("input layer %q must hold exactly one array", name)
		}
		layers[name] = layer
	}

	for _, step := range steps {
		fn, found := reg.Get(step.Op)
		if !found {
			return Layer{}, fmt.Errorf("step %q uses unregistered operation %q", step.OutputKey, step.Op)
		}
		stepInputs := make([]Layer, len(step.InputKeys))
		for i, key := range step.InputKeys {
			layer, ok := layers[key]
			if !ok {
				return Layer{}, fmt.Errorf("step %q needs missing input layer %q", step.OutputKey, key)
			}
			stepInputs[i] = layer
		}
		out, err := fn(stepInputs, step.Params)
		if err != nil {
			return Layer{}, fmt.Errorf("replaying step %q: %w", step.OutputKey, err)
		}
		layers[step.OutputKey] = out
	}
	return layers[target], nil
}
