package pipeline

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStep(op, output string, inputs ...string) Step {
	return Step{Op: op, InputKeys: inputs, OutputKey: output, Name: op}
}

func TestRecorderAppendsInOrder(t *testing.T) {
	r := NewRecorder()
	r.AddStep(testStep("gaussian_smoothing", "raw_smoothed", "raw"))
	r.AddStep(testStep("dt_watershed", "raw_smoothed_dtWS", "raw_smoothed"))
	r.AddStep(testStep("gasp", "raw_smoothed_dtWS_GASP", "raw_smoothed", "raw_smoothed_dtWS"))

	steps := r.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, "raw_smoothed", steps[0].OutputKey)
	assert.Equal(t, "raw_smoothed_dtWS_GASP", steps[2].OutputKey)
	assert.Equal(t, 3, r.Len())

	// Steps returns a snapshot, not the live slice.
	steps[0].OutputKey = "mutated"
	assert.Equal(t, "raw_smoothed", r.Steps()[0].OutputKey)
}

func TestRecorderReset(t *testing.T) {
	r := NewRecorder()
	r.AddStep(testStep("dt_watershed", "raw_dtWS", "raw"))
	r.Reset()
	assert.Equal(t, 0, r.Len())
	_, err := r.Subgraph("raw_dtWS")
	assert.Error(t, err)
}

func TestRecorderConcurrentAppends(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.AddStep(testStep("op", fmt.Sprintf("out%d", i), "raw"))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}

func TestSubgraphMinimal(t *testing.T) {
	// raw -> A -> B, and an unrelated branch raw -> C.
	r := NewRecorder()
	r.AddStep(testStep("opA", "A", "raw"))
	r.AddStep(testStep("opC", "C", "raw"))
	r.AddStep(testStep("opB", "B", "A"))

	steps, err := r.Subgraph("B")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "A", steps[0].OutputKey)
	assert.Equal(t, "B", steps[1].OutputKey)
}

func TestSubgraphDiamond(t *testing.T) {
	// A feeds both B and C, which join into D: A must appear exactly once,
	// before its dependents.
	r := NewRecorder()
	r.AddStep(testStep("opA", "A", "raw"))
	r.AddStep(testStep("opB", "B", "A"))
	r.AddStep(testStep("opC", "C", "A"))
	r.AddStep(testStep("opD", "D", "B", "C"))

	steps, err := r.Subgraph("D")
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, "A", steps[0].OutputKey)
	assert.Equal(t, "D", steps[3].OutputKey)
}

func TestSubgraphUnknownTarget(t *testing.T) {
	r := NewRecorder()
	r.AddStep(testStep("opA", "A", "raw"))
	_, err := r.Subgraph("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recorded step produces layer")
}
