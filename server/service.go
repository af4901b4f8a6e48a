/*
	Package server exposes the segmentation pipeline over HTTP: layers are
	uploaded into the persistent store, operations are dispatched through
	the asynchronous executor, and the recorded pipeline DAG can be
	exported as a replayable workflow document.
*/
package server

import (
	"fmt"
	"time"

	"github.com/blang/semver"

	"github.com/lorenzocerrone/plant-seg/exec"
	"github.com/lorenzocerrone/plant-seg/ops"
	"github.com/lorenzocerrone/plant-seg/pipeline"
	"github.com/lorenzocerrone/plant-seg/pseg"
	"github.com/lorenzocerrone/plant-seg/storage"
)

// Version is the semantic version of this server.
const Version = "1.0.0"

// SemVersion is the parsed form of Version, checked at startup.
var SemVersion semver.Version

// Service bundles everything one running server needs: the layer store,
// the pipeline recorder, the operation registry and the notifier that
// announces operation lifecycle events.
type Service struct {
	store    *storage.LayerStore
	recorder *pipeline.Recorder
	registry *pipeline.Registry
	notifier exec.Notifier
	started  time.Time
}

var runningService *Service

// Initialize brings up logging, kafka, the layer store and the operation
// registry from the loaded configuration.
func Initialize() error {
	var err error
	if SemVersion, err = semver.Make(Version); err != nil {
		return fmt.Errorf("bad server version %q: %v", Version, err)
	}

	tc.Logging.SetLogger()

	if err := tc.Kafka.Initialize(); err != nil {
		return fmt.Errorf("unable to initialize kafka: %v", err)
	}

	if tc.Store.Path == "" {
		return fmt.Errorf("no store path configured; set [store] path in the TOML config")
	}
	store, err := storage.OpenLayerStore(tc.Store, tc.Cache)
	if err != nil {
		return err
	}

	registry := pipeline.NewRegistry()
	if err := ops.RegisterAll(registry); err != nil {
		store.Close()
		return err
	}

	var notifier exec.Notifier = exec.LogNotifier{}
	if len(tc.Kafka.Servers) != 0 {
		notifier = storage.KafkaNotifier{}
	}

	runningService = &Service{
		store:    store,
		recorder: pipeline.NewRecorder(),
		registry: registry,
		notifier: notifier,
		started:  time.Now(),
	}
	pseg.Infof("Server initialized: store at %q, %d operations registered\n",
		tc.Store.Path, len(registry.Names()))
	return nil
}

// Shutdown closes the store, flushes kafka and the log, and waits the
// configured delay so in-flight operations can settle.
func Shutdown() {
	if runningService == nil {
		return
	}
	delay := tc.Server.ShutdownDelay
	if delay > 0 {
		pseg.Infof("Waiting %d seconds for any in-flight operations...\n", delay)
		time.Sleep(time.Duration(delay) * time.Second)
	}
	if err := runningService.store.Close(); err != nil {
		pseg.Errorf("error closing layer store: %v\n", err)
	}
	storage.KafkaShutdown()
	pseg.Shutdown()
	runningService = nil
}
