package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zenazn/goji/web"

	"github.com/lorenzocerrone/plant-seg/pipeline"
	"github.com/lorenzocerrone/plant-seg/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	tc.Store = storage.StoreConfig{Path: t.TempDir()}
	tc.Cache = storage.CacheConfig{MaxMB: 4}
	tc.Kafka = storage.KafkaConfig{}
	tc.Server.ShutdownDelay = 0
	if err := Initialize(); err != nil {
		t.Fatalf("server initialize: %v", err)
	}
	t.Cleanup(Shutdown)

	mux := web.New()
	initRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func httpDo(t *testing.T, method, url string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, data
}

func postLayer(t *testing.T, ts *httptest.Server, name string, doc pipeline.LayerDoc) {
	t.Helper()
	code, body := httpDo(t, "POST", ts.URL+"/api/layer/"+name, doc)
	if code != http.StatusOK {
		t.Fatalf("post layer %q: %d %s", name, code, body)
	}
}

func rawImageDoc(values ...float32) pipeline.LayerDoc {
	return pipeline.LayerDoc{Kind: "image", Size: [3]int{1, 1, len(values)}, Values: values}
}

func TestHelpAndServerInfo(t *testing.T) {
	ts := newTestServer(t)

	code, body := httpDo(t, "GET", ts.URL+"/api/help", nil)
	if code != http.StatusOK || !strings.Contains(string(body), "PlantSeg HTTP API") {
		t.Fatalf("help: %d %s", code, body)
	}

	code, body = httpDo(t, "GET", ts.URL+"/api/server/info", nil)
	if code != http.StatusOK {
		t.Fatalf("server info: %d %s", code, body)
	}
	var info map[string]interface{}
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("server info is not JSON: %v", err)
	}
	if info["version"] != Version {
		t.Errorf("info version %v, want %s", info["version"], Version)
	}

	code, body = httpDo(t, "GET", ts.URL+"/api/server/ops", nil)
	if code != http.StatusOK {
		t.Fatalf("server ops: %d %s", code, body)
	}
	var opNames []string
	if err := json.Unmarshal(body, &opNames); err != nil {
		t.Fatalf("ops response is not JSON: %v", err)
	}
	found := false
	for _, name := range opNames {
		if name == "dt_watershed" {
			found = true
		}
	}
	if !found {
		t.Errorf("dt_watershed not registered: %v", opNames)
	}
}

func TestLayerLifecycle(t *testing.T) {
	ts := newTestServer(t)

	postLayer(t, ts, "raw", rawImageDoc(0.1, 0.2, 0.3, 0.4))

	code, body := httpDo(t, "GET", ts.URL+"/api/layers", nil)
	if code != http.StatusOK || !strings.Contains(string(body), `"raw"`) {
		t.Fatalf("layers list: %d %s", code, body)
	}

	code, body = httpDo(t, "GET", ts.URL+"/api/layer/raw", nil)
	if code != http.StatusOK {
		t.Fatalf("get layer: %d %s", code, body)
	}
	var doc pipeline.LayerDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("layer response is not JSON: %v", err)
	}
	if doc.Kind != "image" || doc.Size != [3]int{1, 1, 4} || len(doc.Values) != 4 {
		t.Fatalf("layer doc mangled: %+v", doc)
	}

	code, _ = httpDo(t, "GET", ts.URL+"/api/layer/missing", nil)
	if code != http.StatusNotFound {
		t.Errorf("missing layer status %d, want 404", code)
	}

	code, body = httpDo(t, "DELETE", ts.URL+"/api/layer/raw", nil)
	if code != http.StatusOK {
		t.Fatalf("delete layer: %d %s", code, body)
	}
	code, _ = httpDo(t, "GET", ts.URL+"/api/layer/raw", nil)
	if code != http.StatusNotFound {
		t.Errorf("deleted layer status %d, want 404", code)
	}
}

func TestLayerPostRejectsBadDocs(t *testing.T) {
	ts := newTestServer(t)

	code, _ := httpDo(t, "POST", ts.URL+"/api/layer/bad",
		pipeline.LayerDoc{Kind: "image", Size: [3]int{1, 1, 4}, Values: []float32{0}})
	if code != http.StatusBadRequest {
		t.Errorf("short values accepted: %d", code)
	}
	code, _ = httpDo(t, "POST", ts.URL+"/api/layer/bad",
		pipeline.LayerDoc{Kind: "mesh", Size: [3]int{1, 1, 1}})
	if code != http.StatusBadRequest {
		t.Errorf("bad kind accepted: %d", code)
	}
}

func TestRunOperation(t *testing.T) {
	ts := newTestServer(t)
	postLayer(t, ts, "raw", rawImageDoc(0.5, 0.5, 0.5, 0.5))

	code, body := httpDo(t, "POST", ts.URL+"/api/run/gaussian_smoothing", map[string]interface{}{
		"inputs": []string{"raw"},
		"params": map[string]interface{}{"sigma": 1.0},
	})
	if code != http.StatusOK {
		t.Fatalf("run: %d %s", code, body)
	}
	var doc pipeline.LayerDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("run response is not JSON: %v", err)
	}
	if doc.Name != "raw_gaussian_smoothing" || doc.Kind != "image" {
		t.Fatalf("run response %+v", doc)
	}
	if len(doc.Values) != 0 {
		t.Errorf("run response should be metadata only")
	}

	// The result is stored and fetchable.
	code, body = httpDo(t, "GET", ts.URL+"/api/layer/raw_gaussian_smoothing", nil)
	if code != http.StatusOK {
		t.Fatalf("get result: %d %s", code, body)
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(doc.Values) != 4 {
		t.Fatalf("stored result mangled: %+v", doc)
	}

	// And the invocation landed in the pipeline DAG.
	code, body = httpDo(t, "GET", ts.URL+"/api/pipeline/steps", nil)
	if code != http.StatusOK {
		t.Fatalf("pipeline steps: %d %s", code, body)
	}
	var steps []pipeline.Step
	if err := json.Unmarshal(body, &steps); err != nil {
		t.Fatalf("steps response is not JSON: %v", err)
	}
	if len(steps) != 1 || steps[0].Op != "gaussian_smoothing" || steps[0].OutputKey != "raw_gaussian_smoothing" {
		t.Fatalf("recorded steps %+v", steps)
	}
}

func TestRunErrors(t *testing.T) {
	ts := newTestServer(t)
	postLayer(t, ts, "raw", rawImageDoc(1, 2))

	code, _ := httpDo(t, "POST", ts.URL+"/api/run/not_an_op", map[string]interface{}{
		"inputs": []string{"raw"},
	})
	if code != http.StatusBadRequest {
		t.Errorf("unknown op status %d, want 400", code)
	}

	code, _ = httpDo(t, "POST", ts.URL+"/api/run/gaussian_smoothing", map[string]interface{}{
		"inputs": []string{"missing"},
	})
	if code != http.StatusBadRequest {
		t.Errorf("missing input status %d, want 400", code)
	}

	code, _ = httpDo(t, "POST", ts.URL+"/api/run/gaussian_smoothing", map[string]interface{}{})
	if code != http.StatusBadRequest {
		t.Errorf("empty inputs status %d, want 400", code)
	}

	// A failed operation surfaces as a 400 and is not recorded.
	postLayer(t, ts, "labels", pipeline.LayerDoc{Kind: "labels", Size: [3]int{1, 1, 2}, Labels: []uint64{1, 2}})
	code, _ = httpDo(t, "POST", ts.URL+"/api/run/gaussian_smoothing", map[string]interface{}{
		"inputs": []string{"labels"},
	})
	if code != http.StatusBadRequest {
		t.Errorf("wrong input kind status %d, want 400", code)
	}
	_, body := httpDo(t, "GET", ts.URL+"/api/pipeline/steps", nil)
	var steps []pipeline.Step
	if err := json.Unmarshal(body, &steps); err != nil {
		t.Fatalf("steps response is not JSON: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("failed runs were recorded: %+v", steps)
	}
}

func TestWorkflowExportAndReplay(t *testing.T) {
	ts := newTestServer(t)
	postLayer(t, ts, "membrane", rawImageDoc(0.2, 0.4, 0.6, 0.8))

	code, body := httpDo(t, "POST", ts.URL+"/api/run/normalize_01", map[string]interface{}{
		"inputs": []string{"membrane"},
		"suffix": "norm",
	})
	if code != http.StatusOK {
		t.Fatalf("run: %d %s", code, body)
	}

	code, workflow := httpDo(t, "GET", ts.URL+"/api/pipeline/workflow", nil)
	if code != http.StatusOK {
		t.Fatalf("workflow export: %d %s", code, workflow)
	}
	if _, err := pipeline.DecodeWorkflow(workflow); err != nil {
		t.Fatalf("exported workflow fails validation: %v", err)
	}

	// Replay the workflow against a second raw layer.
	postLayer(t, ts, "membrane2", rawImageDoc(0, 1, 2, 4))
	code, body = httpDo(t, "POST", ts.URL+"/api/replay", map[string]interface{}{
		"workflow": json.RawMessage(workflow),
		"target":   "membrane_norm",
		"inputs":   map[string]string{"membrane": "membrane2"},
	})
	if code != http.StatusOK {
		t.Fatalf("replay: %d %s", code, body)
	}

	code, body = httpDo(t, "GET", ts.URL+"/api/layer/membrane_norm", nil)
	if code != http.StatusOK {
		t.Fatalf("get replay result: %d %s", code, body)
	}
	var doc pipeline.LayerDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("replay result is not JSON: %v", err)
	}
	want := []float32{0, 0.25, 0.5, 1}
	if fmt.Sprint(doc.Values) != fmt.Sprint(want) {
		t.Fatalf("replayed values %v, want %v", doc.Values, want)
	}
}

func TestPipelineReset(t *testing.T) {
	ts := newTestServer(t)
	postLayer(t, ts, "raw", rawImageDoc(1, 2, 3))

	code, body := httpDo(t, "POST", ts.URL+"/api/run/normalize_01", map[string]interface{}{
		"inputs": []string{"raw"},
	})
	if code != http.StatusOK {
		t.Fatalf("run: %d %s", code, body)
	}

	code, _ = httpDo(t, "POST", ts.URL+"/api/pipeline/reset", nil)
	if code != http.StatusOK {
		t.Fatalf("reset status %d", code)
	}
	_, body = httpDo(t, "GET", ts.URL+"/api/pipeline/steps", nil)
	var steps []pipeline.Step
	if err := json.Unmarshal(body, &steps); err != nil {
		t.Fatalf("steps response is not JSON: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("reset left %d steps", len(steps))
	}
}
