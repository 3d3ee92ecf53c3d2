// Package app provides the main application logic: it wires the camera, the output decoder,
// frame persistence and the shared detection list into one frame loop.
package app

import (
	"errors"
	"fmt"

	"github.com/ayusman/aicam/internal/capture"
	"github.com/ayusman/aicam/internal/decoder"
	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/intrinsics"
	"github.com/ayusman/aicam/internal/labels"
	"github.com/ayusman/aicam/internal/metrics"
	"github.com/ayusman/aicam/internal/overlay"
	"github.com/ayusman/aicam/internal/persist"
	"github.com/ayusman/aicam/internal/store"
	"github.com/cyclopcam/logs"
	"go.uber.org/atomic"
)

// Config holds the knobs of the frame loop.
type Config struct {
	Params      decoder.Params
	LabelFile   string
	LabelFilter labels.FilterMode
	ImageDir    string
	// StatsEvery is the number of frames between stage timing reports. Zero disables them.
	StatsEvery int
}

// Deps are the collaborators of an App. Camera, Intrinsics and Log are required.
type Deps struct {
	Camera     capture.Camera
	Intrinsics *intrinsics.Intrinsics
	Log        logs.Log
	// Store is optional. Without it no history is recorded.
	Store *store.Store
	// Metrics is optional. A fresh registry is created when nil.
	Metrics *metrics.Metrics
}

// App owns everything the frame loop shares with its readers.
type App struct {
	config     Config
	camera     capture.Camera
	intrinsics *intrinsics.Intrinsics
	log        logs.Log
	store      *store.Store

	labels    *labels.Catalog
	decoder   *decoder.Decoder
	latest    *detection.Latest
	saver     *persist.Saver
	metrics   *metrics.Metrics
	times     *metrics.StageTimes
	recording *atomic.Bool
}

// New validates the intrinsics and sets up the pipeline. A network that is not an object
// detector is rejected with intrinsics.ErrNotObjectDetection before the camera is touched.
func New(config Config, deps Deps) (*App, error) {
	if deps.Camera == nil {
		return nil, errors.New("app: camera is required")
	}
	if deps.Log == nil {
		return nil, errors.New("app: log is required")
	}
	in := deps.Intrinsics
	if in == nil {
		in = intrinsics.Default()
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := in.EnsureLabels(labels.LoadFile, config.LabelFile); err != nil {
		return nil, err
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	a := &App{
		config:     config,
		camera:     deps.Camera,
		intrinsics: in,
		log:        deps.Log,
		store:      deps.Store,
		labels: labels.New(func() []string { return in.Labels }, labels.Options{
			IgnorePlaceholders: in.IgnoreDashLabels,
			Mode:               config.LabelFilter,
		}),
		decoder:   decoder.New(decoder.ConventionFor(in), config.Params, deps.Camera),
		latest:    detection.NewLatest(),
		saver:     persist.NewSaver(deps.Log, config.ImageDir),
		metrics:   m,
		times:     metrics.NewStageTimes(),
		recording: atomic.NewBool(true),
	}

	if a.store != nil {
		a.recording.Store(a.store.Settings().GetBool(store.SettingRecording, true))
	}

	var roi overlay.ROIFunc
	if in.PreserveAspectRatio {
		a.camera.SetAutoAspectRatio()
		roi = a.camera.ROIScaled
	}
	a.camera.SetPreCallback(overlay.New(a.labels, a.latest, roi).Draw)

	a.log.Infof("Using %v output convention with %d labels", a.decoder.Convention(), len(a.labels.Labels()))
	return a, nil
}

// SetRecording pauses or resumes the detection history. Frames are still decoded and
// reported while recording is off. The choice is remembered in the store.
func (a *App) SetRecording(on bool) error {
	a.recording.Store(on)
	if a.store == nil {
		return nil
	}
	if err := a.store.Settings().SetBool(store.SettingRecording, on); err != nil {
		return fmt.Errorf("save recording setting: %w", err)
	}
	return nil
}

// IsRecording reports whether processed frames are added to the history.
func (a *App) IsRecording() bool {
	return a.recording.Load()
}

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Labels returns the label catalog.
func (a *App) Labels() *labels.Catalog {
	return a.labels
}

// Latest returns the detections of the most recently processed frame.
func (a *App) Latest() *detection.Latest {
	return a.latest
}

// Metrics returns the Prometheus collectors of this App.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Store returns the history store, or nil.
func (a *App) Store() *store.Store {
	return a.store
}

// Intrinsics returns the validated intrinsics, labels included.
func (a *App) Intrinsics() *intrinsics.Intrinsics {
	return a.intrinsics
}
