package capture

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/sensor"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

func scriptFrame() []*tensor.Dense {
	return []*tensor.Dense{tensor.New(tensor.WithShape(1, 1, 4), tensor.WithBacking(make([]float32, 4)))}
}

func TestMockCamera_Playback(t *testing.T) {
	cam := NewMockCamera(sensor.Geometry{Width: 320, Height: 320}, image.Pt(640, 480), [][]*tensor.Dense{
		scriptFrame(),
		nil,
	})

	if err := cam.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cam.Close()

	md, err := cam.CaptureMetadata(context.Background())
	if err != nil {
		t.Fatalf("CaptureMetadata() error = %v", err)
	}
	if len(cam.Outputs(md)) != 1 {
		t.Errorf("first frame should carry outputs")
	}
	if md.OutputSize != image.Pt(640, 480) {
		t.Errorf("OutputSize = %v, want 640x480", md.OutputSize)
	}

	md, err = cam.CaptureMetadata(context.Background())
	if err != nil {
		t.Fatalf("CaptureMetadata() error = %v", err)
	}
	if cam.Outputs(md) != nil {
		t.Errorf("second frame should have no outputs")
	}
	if md.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", md.Sequence)
	}

	select {
	case <-cam.Done():
	default:
		t.Error("Done() should be closed after the script ran out")
	}

	// Past the end of the script the camera blocks until the context ends.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := cam.CaptureMetadata(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("CaptureMetadata() error = %v, want DeadlineExceeded", err)
	}
}

func TestMockCamera_NotOpened(t *testing.T) {
	cam := NewMockCamera(sensor.Geometry{}, image.Pt(10, 10), nil)

	if _, err := cam.CaptureMetadata(context.Background()); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("CaptureMetadata() error = %v, want ErrCameraNotOpen", err)
	}
	select {
	case <-cam.Done():
	default:
		t.Error("an empty script is done from the start")
	}
}

func TestMockCamera_CaptureFile(t *testing.T) {
	cam := NewMockCamera(sensor.Geometry{}, image.Pt(10, 10), nil)
	path := filepath.Join(t.TempDir(), "frame.jpg")

	if err := cam.CaptureFile(path); err != nil {
		t.Fatalf("CaptureFile() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file should exist: %v", err)
	}
	if got := cam.Written(); len(got) != 1 || got[0] != path {
		t.Errorf("Written() = %v, want [%v]", got, path)
	}

	errFull := errors.New("disk full")
	cam.WriteErr = errFull
	if err := cam.CaptureFile(path); !errors.Is(err, errFull) {
		t.Errorf("CaptureFile() error = %v, want %v", err, errFull)
	}
}

func TestMockCamera_PreCallback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	cam := NewMockCamera(sensor.Geometry{Width: 320, Height: 320}, image.Pt(64, 48), [][]*tensor.Dense{nil})
	calls := 0
	cam.SetPreCallback(func(frame *gocv.Mat, md *sensor.Metadata) error {
		calls++
		if frame.Cols() != 64 || frame.Rows() != 48 {
			t.Errorf("frame size = %dx%d, want 64x48", frame.Cols(), frame.Rows())
		}
		return nil
	})
	cam.Open(context.Background())
	defer cam.Close()

	if _, err := cam.Preview(); !errors.Is(err, ErrNoPreview) {
		t.Errorf("Preview() before capture error = %v, want ErrNoPreview", err)
	}
	if _, err := cam.CaptureMetadata(context.Background()); err != nil {
		t.Fatalf("CaptureMetadata() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("pre callback called %d times, want 1", calls)
	}

	preview, err := cam.Preview()
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	preview.Close()
}

func TestMockCamera_AutoAspectRatio(t *testing.T) {
	cam := NewMockCamera(sensor.Geometry{Width: 320, Height: 320}, image.Pt(800, 600), [][]*tensor.Dense{nil})
	cam.SetAutoAspectRatio()
	cam.Open(context.Background())
	defer cam.Close()

	md, err := cam.CaptureMetadata(context.Background())
	if err != nil {
		t.Fatalf("CaptureMetadata() error = %v", err)
	}
	if want := image.Rect(100, 0, 700, 600); md.InferenceROI != want {
		t.Errorf("InferenceROI = %v, want %v", md.InferenceROI, want)
	}
	if got, want := cam.ROIScaled(md), (detection.Box{X: 100, Y: 0, Width: 600, Height: 600}); got != want {
		t.Errorf("ROIScaled() = %v, want %v", got, want)
	}
}
