// Package capture provides camera capture with an attached neural accelerator using GoCV (OpenCV).
package capture

import (
	"context"
	"errors"

	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/sensor"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// Default camera settings
const (
	DefaultWidth       = 640
	DefaultHeight      = 480
	DefaultBufferCount = 12
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// ErrNoPreview is returned when no frame has been captured yet.
var ErrNoPreview = errors.New("no frame captured yet")

// PreCallback runs on every captured frame before it is stored, so that anything it
// draws ends up in both the preview and saved files.
type PreCallback func(frame *gocv.Mat, md *sensor.Metadata) error

// Camera is a camera whose frames carry the output of an inference accelerator.
type Camera interface {
	// Open starts streaming and loads the network onto the accelerator.
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// CaptureMetadata blocks until the next frame is available.
	CaptureMetadata(ctx context.Context) (*sensor.Metadata, error)
	// Outputs returns the network outputs of a frame, or nil when none were ready.
	Outputs(md *sensor.Metadata) []*tensor.Dense
	// InputSize is the network input tensor size.
	InputSize() sensor.Geometry

	sensor.Converter
	// ROIScaled returns the inference ROI in output image pixels.
	ROIScaled(md *sensor.Metadata) detection.Box
	// SetAutoAspectRatio restricts inference to the largest centered region with the
	// network's aspect ratio.
	SetAutoAspectRatio()

	// CaptureFile writes the most recent frame, overlay included, as an image file.
	CaptureFile(path string) error
	// Preview returns a copy of the most recent frame. The caller must close it.
	Preview() (gocv.Mat, error)
	SetPreCallback(fn PreCallback)
}
