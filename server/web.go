package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/wblakecaldwell/profiler"
	"github.com/zenazn/goji/web"

	"github.com/lorenzocerrone/plant-seg/exec"
	"github.com/lorenzocerrone/plant-seg/pipeline"
	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/storage"
)

const webHelp = `
PlantSeg HTTP API

  GET  /api/help                   this message
  GET  /api/server/info            server and runtime information
  GET  /api/server/ops             registered operation identities

  GET  /api/layers                 stored layer names
  GET  /api/layer/:name            layer metadata and data
  POST /api/layer/:name            store a layer (JSON body)
  DELETE /api/layer/:name          remove a stored layer

  GET  /api/pipeline/steps         recorded pipeline steps
  GET  /api/pipeline/workflow      exported replayable workflow
  POST /api/pipeline/reset         clear the recorded pipeline

  POST /api/run/:op                run an operation over stored layers
  POST /api/replay                 replay a workflow target from inputs

  GET  /metrics                    prometheus metrics
  GET  /profiler/info.html         memory profiling
`

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plantseg_http_requests_total",
		Help: "Number of HTTP requests by method and status.",
	}, []string{"method", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plantseg_operation_duration_seconds",
		Help:    "Wall time of dispatched segmentation operations.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(httpRequests, opDuration)
}

// statusWriter captures the response code for request metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrumentHandler(c *web.C, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h.ServeHTTP(sw, r)
		httpRequests.WithLabelValues(r.Method, fmt.Sprintf("%d", sw.code)).Inc()
	})
}

// recoverHandler returns a 500 on handler panics instead of killing the
// connection goroutine silently.
func recoverHandler(c *web.C, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if e := recover(); e != nil {
				pseg.Criticalf("panic serving %s %s: %v\n", r.Method, r.URL.Path, e)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		h.ServeHTTP(w, r)
	})
}

// BadRequest writes and logs a 400 with a formatted explanation.
func BadRequest(w http.ResponseWriter, r *http.Request, message string, args ...interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	errorMsg := fmt.Sprintf("%s (%s)", message, r.URL.Path)
	pseg.Errorf("%s\n", errorMsg)
	http.Error(w, errorMsg, http.StatusBadRequest)
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		pseg.Errorf("unable to write JSON response: %v\n", err)
	}
}

// ServeHTTP builds the route mux and blocks serving requests.
func ServeHTTP() error {
	if runningService == nil {
		return fmt.Errorf("server not initialized")
	}
	address := tc.Server.HTTPAddress
	if address == "" {
		address = DefaultWebAddress
	}

	mux := web.New()
	mux.Use(recoverHandler)
	mux.Use(instrumentHandler)
	initRoutes(mux)

	profiler.AddMemoryProfilingHandlers()
	profiler.StartProfiling()
	mux.Handle("/profiler/*", http.DefaultServeMux)
	mux.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = mux
	if len(tc.Server.CorsOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: tc.Server.CorsOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE"},
		}).Handler(mux)
	}

	pseg.Infof("Web server listening at %s ...\n", address)
	srv := &http.Server{
		Addr:        address,
		Handler:     handler,
		ReadTimeout: 1 * time.Hour,
	}
	return srv.ListenAndServe()
}

func initRoutes(mux *web.Mux) {
	mux.Get("/api/help", helpHandler)
	mux.Get("/api/server/info", serverInfoHandler)
	mux.Get("/api/server/ops", serverOpsHandler)

	mux.Get("/api/layers", layersHandler)
	mux.Get("/api/layer/:name", layerGetHandler)
	mux.Post("/api/layer/:name", layerPostHandler)
	mux.Delete("/api/layer/:name", layerDeleteHandler)

	mux.Get("/api/pipeline/steps", pipelineStepsHandler)
	mux.Get("/api/pipeline/workflow", pipelineWorkflowHandler)
	mux.Post("/api/pipeline/reset", pipelineResetHandler)

	mux.Post("/api/run/:op", runHandler)
	mux.Post("/api/replay", replayHandler)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, webHelp)
}

func serverInfoHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	names, err := runningService.store.Names()
	if err != nil {
		BadRequest(w, r, "unable to list stored layers: %v", err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"version":        SemVersion.String(),
		"host":           Host(),
		"note":           Note(),
		"uptime":         time.Since(runningService.started).String(),
		"started":        humanize.Time(runningService.started),
		"memory alloc":   humanize.IBytes(m.Alloc),
		"goroutines":     runtime.NumGoroutine(),
		"stored layers":  len(names),
		"recorded steps": runningService.recorder.Len(),
	})
}

func serverOpsHandler(w http.ResponseWriter, r *http.Request) {
	names := runningService.registry.Names()
	sort.Strings(names)
	respondJSON(w, names)
}

func layersHandler(w http.ResponseWriter, r *http.Request) {
	names, err := runningService.store.Names()
	if err != nil {
		BadRequest(w, r, "unable to list stored layers: %v", err)
		return
	}
	sort.Strings(names)
	respondJSON(w, names)
}

func layerGetHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	name := c.URLParams["name"]
	layer, err := runningService.store.Get(name)
	if err == storage.ErrLayerNotFound {
		http.Error(w, fmt.Sprintf("layer %q not found", name), http.StatusNotFound)
		return
	}
	if err != nil {
		BadRequest(w, r, "unable to read layer %q: %v", name, err)
		return
	}
	respondJSON(w, pipeline.DocFromLayer(name, layer))
}

func layerPostHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	name := c.URLParams["name"]
	body, err := io.ReadAll(r.Body)
	if err != nil {
		BadRequest(w, r, "unable to read request body: %v", err)
		return
	}
	var doc pipeline.LayerDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		BadRequest(w, r, "layer body is not valid JSON: %v", err)
		return
	}
	layer, err := doc.ToLayer()
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	if err := runningService.store.Put(name, layer); err != nil {
		BadRequest(w, r, "unable to store layer %q: %v", name, err)
		return
	}
	respondJSON(w, map[string]string{"stored": name})
}

func layerDeleteHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	name := c.URLParams["name"]
	if err := runningService.store.Delete(name); err != nil {
		BadRequest(w, r, "unable to delete layer %q: %v", name, err)
		return
	}
	respondJSON(w, map[string]string{"deleted": name})
}

func pipelineStepsHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, runningService.recorder.Steps())
}

func pipelineWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	data, err := pipeline.EncodeWorkflow(runningService.recorder.Export())
	if err != nil {
		BadRequest(w, r, "unable to encode workflow: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func pipelineResetHandler(w http.ResponseWriter, r *http.Request) {
	runningService.recorder.Reset()
	respondJSON(w, map[string]string{"pipeline": "reset"})
}

// runRequest is the body of POST /api/run/:op.
type runRequest struct {
	Inputs []string        `json:"inputs"`
	Params pipeline.Params `json:"params"`

	// Suffix overrides the operation identity in the derived output name.
	Suffix string `json:"suffix,omitempty"`
}

func runHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	op := c.URLParams["op"]
	fn, found := runningService.registry.Get(op)
	if !found {
		BadRequest(w, r, "unknown operation %q", op)
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "run request is not valid JSON: %v", err)
		return
	}
	if len(req.Inputs) == 0 {
		BadRequest(w, r, "run request needs at least one input layer")
		return
	}
	inputs := make([]pipeline.Layer, len(req.Inputs))
	for i, name := range req.Inputs {
		layer, err := runningService.store.Get(name)
		if err == storage.ErrLayerNotFound {
			BadRequest(w, r, "input layer %q not found", name)
			return
		}
		if err != nil {
			BadRequest(w, r, "unable to read input layer %q: %v", name, err)
			return
		}
		inputs[i] = layer
	}
	if req.Params == nil {
		req.Params = pipeline.Params{}
	}

	suffix := req.Suffix
	if suffix == "" {
		suffix = op
	}
	outName := pipeline.BuildNiceName(req.Inputs[0], suffix)

	start := time.Now()
	future := exec.Start(exec.Spec{
		Op:        op,
		Run:       func() (pipeline.Layer, error) { return fn(inputs, req.Params) },
		InputKeys: req.Inputs,
		OutputKey: outName,
		Params:    req.Params,
		Props:     exec.LayerProps{Name: outName},
		StepName:  strings.ReplaceAll(op, "_", " "),
	}, runningService.recorder, runningService.notifier)

	result, err := future.Result()
	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		BadRequest(w, r, "operation %q failed: %v", op, err)
		return
	}
	if err := runningService.store.Put(outName, result.Layer); err != nil {
		BadRequest(w, r, "unable to store result %q: %v", outName, err)
		return
	}
	doc := pipeline.DocFromLayer(outName, result.Layer)
	doc.Values, doc.Labels = nil, nil // metadata only
	respondJSON(w, doc)
}

// replayRequest is the body of POST /api/replay: a workflow document, the
// layer to recompute, and a mapping from workflow input names to stored
// layer names.
type replayRequest struct {
	Workflow json.RawMessage   `json:"workflow"`
	Target   string            `json:"target"`
	Inputs   map[string]string `json:"inputs"`
}

func replayHandler(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "replay request is not valid JSON: %v", err)
		return
	}
	wf, err := pipeline.DecodeWorkflow(req.Workflow)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	inputs := make(map[string]pipeline.Layer, len(req.Inputs))
	for wfName, storeName := range req.Inputs {
		layer, err := runningService.store.Get(storeName)
		if err != nil {
			BadRequest(w, r, "unable to read input layer %q: %v", storeName, err)
			return
		}
		inputs[wfName] = layer
	}

	timelog := pseg.NewTimeLog()
	out, err := pipeline.Replay(wf, req.Target, inputs, runningService.registry)
	if err != nil {
		BadRequest(w, r, "replay failed: %v", err)
		return
	}
	timelog.Infof("replayed workflow target %q", req.Target)

	if err := runningService.store.Put(req.Target, out); err != nil {
		BadRequest(w, r, "unable to store replay result %q: %v", req.Target, err)
		return
	}
	doc := pipeline.DocFromLayer(req.Target, out)
	doc.Values, doc.Labels = nil, nil
	respondJSON(w, doc)
}
