package capture

import (
	"context"
	"image"
	"os"
	"sync"
	"time"

	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/sensor"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// MockCamera plays back scripted network outputs for testing.
// A nil entry in the script is a frame whose outputs were not ready.
// Once the script runs out, CaptureMetadata blocks until its context is canceled.
type MockCamera struct {
	mu        sync.Mutex
	script    [][]*tensor.Dense
	index     int
	input     sensor.Geometry
	output    image.Point
	running   bool
	roi       image.Rectangle
	pre       PreCallback
	canvas    gocv.Mat
	hasCanvas bool
	written   []string
	done      chan struct{}

	// WriteErr, when set, is returned by CaptureFile instead of writing.
	WriteErr error
}

// NewMockCamera creates a mock camera with the given network input size and output image size.
func NewMockCamera(input sensor.Geometry, output image.Point, script [][]*tensor.Dense) *MockCamera {
	c := &MockCamera{
		script: script,
		input:  input,
		output: output,
		done:   make(chan struct{}),
	}
	if len(script) == 0 {
		close(c.done)
	}
	return c
}

func (c *MockCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	if c.hasCanvas {
		c.canvas.Close()
		c.hasCanvas = false
	}
	return nil
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Done is closed once every scripted frame has been delivered.
func (c *MockCamera) Done() <-chan struct{} {
	return c.done
}

func (c *MockCamera) CaptureMetadata(ctx context.Context) (*sensor.Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}
	if c.index >= len(c.script) {
		c.mu.Unlock()
		<-ctx.Done()
		c.mu.Lock()
		return nil, ctx.Err()
	}

	md := &sensor.Metadata{
		Sequence:     uint64(c.index),
		Timestamp:    time.Now(),
		SensorSize:   c.output,
		OutputSize:   c.output,
		InferenceROI: c.roi,
		Outputs:      c.script[c.index],
	}
	c.index++
	if c.index == len(c.script) {
		close(c.done)
	}

	if c.pre != nil {
		if err := c.pre(c.ensureCanvas(), md); err != nil {
			return nil, err
		}
	}
	return md, nil
}

func (c *MockCamera) ensureCanvas() *gocv.Mat {
	if !c.hasCanvas {
		c.canvas = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), c.output.Y, c.output.X, gocv.MatTypeCV8UC3)
		c.hasCanvas = true
	}
	return &c.canvas
}

func (c *MockCamera) Outputs(md *sensor.Metadata) []*tensor.Dense {
	return md.Outputs
}

func (c *MockCamera) InputSize() sensor.Geometry {
	return c.input
}

func (c *MockCamera) ConvertInferenceCoords(coords sensor.Coords, md *sensor.Metadata, geom sensor.Geometry) detection.Box {
	return sensor.Mapper{}.ConvertInferenceCoords(coords, md, geom)
}

func (c *MockCamera) ROIScaled(md *sensor.Metadata) detection.Box {
	return sensor.Mapper{}.ROIScaled(md, c.input)
}

func (c *MockCamera) SetAutoAspectRatio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roi = sensor.AspectROI(c.output, c.input)
}

// CaptureFile writes a placeholder file and records the path.
func (c *MockCamera) CaptureFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	if err := os.WriteFile(path, []byte("mock frame"), 0644); err != nil {
		return err
	}
	c.written = append(c.written, path)
	return nil
}

// Written returns every path CaptureFile wrote.
func (c *MockCamera) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *MockCamera) Preview() (gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasCanvas {
		return gocv.NewMat(), ErrNoPreview
	}
	return c.canvas.Clone(), nil
}

func (c *MockCamera) SetPreCallback(fn PreCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pre = fn
}
