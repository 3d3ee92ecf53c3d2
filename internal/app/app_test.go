package app

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/aicam/internal/capture"
	"github.com/ayusman/aicam/internal/decoder"
	"github.com/ayusman/aicam/internal/intrinsics"
	"github.com/ayusman/aicam/internal/sensor"
	"github.com/ayusman/aicam/internal/store"
	"github.com/cyclopcam/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorgonia.org/tensor"
)

var testInput = sensor.Geometry{Width: 320, Height: 320}

func genericOutputs(boxes [][4]float32, scores, classes []float32) []*tensor.Dense {
	flat := make([]float32, 0, len(boxes)*4)
	for _, b := range boxes {
		flat = append(flat, b[:]...)
	}
	n := len(boxes)
	return []*tensor.Dense{
		tensor.New(tensor.WithShape(1, n, 4), tensor.WithBacking(flat)),
		tensor.New(tensor.WithShape(1, n), tensor.WithBacking(scores)),
		tensor.New(tensor.WithShape(1, n), tensor.WithBacking(classes)),
	}
}

func testIntrinsics() *intrinsics.Intrinsics {
	in := intrinsics.Default()
	in.Labels = []string{"person", "bicycle", "car"}
	return in
}

func newTestApp(t *testing.T, cam capture.Camera, s *store.Store) *App {
	t.Helper()
	a, err := New(Config{
		Params:   decoder.DefaultParams(),
		ImageDir: filepath.Join(t.TempDir(), "images"),
	}, Deps{
		Camera:     cam,
		Intrinsics: testIntrinsics(),
		Log:        logs.NewTestingLog(t),
		Store:      s,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// runScript runs the loop until the camera has delivered every scripted frame.
func runScript(t *testing.T, a *App, cam *capture.MockCamera) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	select {
	case <-cam.Done():
	case err := <-errc:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the script to play")
	}
	cancel()

	select {
	case err := <-errc:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	return nil
}

func TestNew_RejectsOtherTasks(t *testing.T) {
	cam := capture.NewMockCamera(testInput, image.Pt(640, 480), nil)
	in := testIntrinsics()
	in.Task = "classification"

	_, err := New(Config{Params: decoder.DefaultParams()}, Deps{
		Camera:     cam,
		Intrinsics: in,
		Log:        logs.NewTestingLog(t),
	})
	if !errors.Is(err, intrinsics.ErrNotObjectDetection) {
		t.Fatalf("New() error = %v, want ErrNotObjectDetection", err)
	}
	if cam.IsOpen() {
		t.Error("camera should not be opened")
	}
}

func TestNew_LabelFallback(t *testing.T) {
	cam := capture.NewMockCamera(testInput, image.Pt(640, 480), nil)

	_, err := New(Config{
		Params:    decoder.DefaultParams(),
		LabelFile: filepath.Join(t.TempDir(), "missing.txt"),
	}, Deps{
		Camera:     cam,
		Intrinsics: intrinsics.Default(),
		Log:        logs.NewTestingLog(t),
	})
	if err == nil {
		t.Fatal("New() should fail when neither intrinsics nor the label file have labels")
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{Log: logs.NewTestingLog(t)}); err == nil {
		t.Error("New() without a camera should fail")
	}
	cam := capture.NewMockCamera(testInput, image.Pt(640, 480), nil)
	if _, err := New(Config{}, Deps{Camera: cam}); err == nil {
		t.Error("New() without a log should fail")
	}
}

func TestApp_Recording(t *testing.T) {
	s := newTestStore(t)
	cam := capture.NewMockCamera(testInput, image.Pt(640, 480), nil)

	a := newTestApp(t, cam, s)
	if !a.IsRecording() {
		t.Fatal("recording should be on by default")
	}
	if err := a.SetRecording(false); err != nil {
		t.Fatalf("SetRecording() error: %v", err)
	}

	// A new App picks up the saved choice.
	b := newTestApp(t, cam, s)
	if b.IsRecording() {
		t.Error("recording setting was not restored from the store")
	}
}

func TestRun_ProcessesFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	script := [][]*tensor.Dense{
		genericOutputs(
			[][4]float32{{32, 64, 96, 128}, {0, 0, 10, 10}},
			[]float32{0.9, 0.55},
			[]float32{2, 0},
		),
		nil,
		nil,
	}
	cam := capture.NewMockCamera(testInput, image.Pt(640, 480), script)
	s := newTestStore(t)
	a := newTestApp(t, cam, s)

	if err := runScript(t, a, cam); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	written := cam.Written()
	if len(written) != 3 {
		t.Fatalf("wrote %d files, want 3", len(written))
	}
	for _, p := range written {
		if filepath.Ext(p) != ".jpg" {
			t.Errorf("saved file %q is not a .jpg", p)
		}
	}

	dets := a.Latest().Load()
	if len(dets) != 1 {
		t.Fatalf("latest has %d detections, want 1 (0.55 is not above the threshold)", len(dets))
	}
	if dets[0].Category() != 2 {
		t.Errorf("category = %d, want 2", dets[0].Category())
	}

	m := a.Metrics()
	if got := testutil.ToFloat64(m.Frames); got != 3 {
		t.Errorf("frames_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.StaleFrames); got != 2 {
		t.Errorf("stale_frames_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SavedFrames); got != 3 {
		t.Errorf("saved_frames_total = %v, want 3", got)
	}
	// Stale frames repeat the previous result, so "car" is reported three times.
	if got := testutil.ToFloat64(m.Detections.WithLabelValues("car")); got != 3 {
		t.Errorf("detections_total{car} = %v, want 3", got)
	}

	n, err := s.Frames().Count()
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 3 {
		t.Errorf("recorded %d frames, want 3", n)
	}
}

func TestRun_RecordingPaused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	cam := capture.NewMockCamera(testInput, image.Pt(640, 480), [][]*tensor.Dense{nil, nil})
	s := newTestStore(t)
	a := newTestApp(t, cam, s)
	if err := a.SetRecording(false); err != nil {
		t.Fatalf("SetRecording() error: %v", err)
	}

	if err := runScript(t, a, cam); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(cam.Written()) != 2 {
		t.Errorf("frames should still be saved while recording is paused")
	}
	if n, _ := s.Frames().Count(); n != 0 {
		t.Errorf("recorded %d frames while paused, want 0", n)
	}
}

func TestRun_Errors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	t.Run("bad output shape", func(t *testing.T) {
		bad := genericOutputs([][4]float32{{1, 2, 3, 4}}, []float32{0.9}, []float32{0})[:2]
		cam := capture.NewMockCamera(testInput, image.Pt(640, 480), [][]*tensor.Dense{bad})
		a := newTestApp(t, cam, nil)

		if err := runScript(t, a, cam); !errors.Is(err, decoder.ErrShape) {
			t.Errorf("Run() error = %v, want ErrShape", err)
		}
		if len(cam.Written()) != 0 {
			t.Error("a frame that failed to decode should not be saved")
		}
	})

	t.Run("write fails twice", func(t *testing.T) {
		cam := capture.NewMockCamera(testInput, image.Pt(640, 480), [][]*tensor.Dense{nil})
		cam.WriteErr = errors.New("disk full")
		a := newTestApp(t, cam, nil)

		if err := runScript(t, a, cam); err == nil {
			t.Error("Run() should fail when the frame cannot be saved")
		}
	})
}
