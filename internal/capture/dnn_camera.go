package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/sensor"
	"github.com/cyclopcam/logs"
	"github.com/schollz/progressbar/v3"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// DNNConfig describes a camera device and the network to run on its frames.
type DNNConfig struct {
	DeviceID    int
	Width       int
	Height      int
	BufferCount int

	// ModelPath is an ONNX file.
	ModelPath   string
	Input       sensor.Geometry
	OutputNames []string
	// Scale is applied to pixel values before inference. Zero means 1/255.
	Scale  float64
	SwapRB bool

	// Progress receives the upload progress bar. Nil means stderr.
	Progress io.Writer
}

// DNNCamera runs an OpenCV DNN network on frames from a local video device,
// standing in for an on-sensor accelerator.
type DNNCamera struct {
	cfg DNNConfig
	log logs.Log

	mu        sync.Mutex
	capture   *gocv.VideoCapture
	net       *gocv.Net
	running   bool
	sequence  uint64
	roi       image.Rectangle
	autoROI   bool
	composite gocv.Mat
	pre       PreCallback
}

// NewDNNCamera creates a camera. Nothing is opened until Open is called.
func NewDNNCamera(log logs.Log, cfg DNNConfig) *DNNCamera {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.BufferCount <= 0 {
		cfg.BufferCount = DefaultBufferCount
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1.0 / 255
	}
	if cfg.Progress == nil {
		cfg.Progress = os.Stderr
	}
	return &DNNCamera{
		cfg: cfg,
		log: log,
	}
}

// Open uploads the network and opens the video device.
func (c *DNNCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	model, err := c.uploadModel(ctx)
	if err != nil {
		return err
	}
	net, err := gocv.ReadNetBytes("onnx", model, nil)
	if err != nil {
		return fmt.Errorf("load network: %w", err)
	}
	if net.Empty() {
		return errors.New("failed to load network")
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return fmt.Errorf("set network backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return fmt.Errorf("set network target: %w", err)
	}

	capture, err := gocv.OpenVideoCapture(c.cfg.DeviceID)
	if err != nil {
		net.Close()
		return err
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	capture.Set(gocv.VideoCaptureBufferSize, float64(c.cfg.BufferCount))

	c.net = &net
	c.capture = capture
	c.composite = gocv.NewMat()
	c.running = true

	c.log.Infof("Camera %v open, network %v (%vx%v)", c.cfg.DeviceID, c.cfg.ModelPath, c.cfg.Input.Width, c.cfg.Input.Height)
	return nil
}

// uploadModel reads the model file, reporting progress the way firmware uploads do.
func (c *DNNCamera) uploadModel(ctx context.Context) ([]byte, error) {
	f, err := os.Open(c.cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	bar := progressbar.NewOptions64(st.Size(),
		progressbar.OptionSetDescription("Network firmware upload"),
		progressbar.OptionSetWriter(c.cfg.Progress),
		progressbar.OptionShowBytes(true),
	)
	buf := &bytes.Buffer{}
	buf.Grow(int(st.Size()))
	if _, err := io.Copy(io.MultiWriter(buf, bar), &ctxReader{ctx: ctx, r: f}); err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	bar.Finish()
	return buf.Bytes(), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Close closes the camera and releases resources.
func (c *DNNCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	err := c.capture.Close()
	c.net.Close()
	c.composite.Close()
	c.capture = nil
	c.net = nil
	c.running = false

	return err
}

// IsOpen returns true if the camera is currently open and running.
func (c *DNNCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// CaptureMetadata reads a frame, runs the network on it, and stores the frame with the
// pre-callback applied.
func (c *DNNCamera) CaptureMetadata(ctx context.Context) (*sensor.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	frame := gocv.NewMat()
	defer frame.Close()
	if ok := c.capture.Read(&frame); !ok {
		return nil, errors.New("failed to read frame from camera")
	}
	if frame.Empty() {
		return nil, errors.New("captured frame is empty")
	}

	size := image.Pt(frame.Cols(), frame.Rows())
	if c.autoROI && c.roi.Empty() {
		c.roi = sensor.AspectROI(size, c.cfg.Input)
	}
	md := &sensor.Metadata{
		Sequence:     c.sequence,
		Timestamp:    time.Now(),
		SensorSize:   size,
		ScalerCrop:   image.Rectangle{Max: size},
		OutputSize:   size,
		InferenceROI: c.roi,
	}
	c.sequence++

	outputs, err := c.infer(frame, md)
	if err != nil {
		// A frame without outputs is not fatal; the decoder keeps the last result.
		c.log.Warnf("Inference failed on frame %v: %v", md.Sequence, err)
	}
	md.Outputs = outputs

	composite := frame.Clone()
	if c.pre != nil {
		if err := c.pre(&composite, md); err != nil {
			c.log.Warnf("Pre-frame callback failed: %v", err)
		}
	}
	c.composite.Close()
	c.composite = composite

	return md, nil
}

func (c *DNNCamera) infer(frame gocv.Mat, md *sensor.Metadata) ([]*tensor.Dense, error) {
	src := frame
	if !md.InferenceROI.Empty() {
		src = frame.Region(md.InferenceROI)
		defer src.Close()
	}

	blob := gocv.BlobFromImage(src, c.cfg.Scale, c.cfg.Input.Point(), gocv.NewScalar(0, 0, 0, 0), c.cfg.SwapRB, false)
	defer blob.Close()
	c.net.SetInput(blob, "")

	var mats []gocv.Mat
	if len(c.cfg.OutputNames) == 0 {
		mats = []gocv.Mat{c.net.Forward("")}
	} else {
		mats = c.net.ForwardLayers(c.cfg.OutputNames)
	}
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()

	outputs := make([]*tensor.Dense, 0, len(mats))
	for i, m := range mats {
		t, err := matToTensor(m)
		if err != nil {
			return nil, fmt.Errorf("output %v: %w", i, err)
		}
		outputs = append(outputs, t)
	}
	return outputs, nil
}

// matToTensor copies a float32 network output into a tensor of the same shape.
func matToTensor(m gocv.Mat) (*tensor.Dense, error) {
	if m.Empty() {
		return nil, errors.New("empty output")
	}
	data, err := m.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	backing := make([]float32, len(data))
	copy(backing, data)
	return tensor.New(tensor.WithShape(m.Size()...), tensor.WithBacking(backing)), nil
}

// Outputs returns the network outputs attached to md.
func (c *DNNCamera) Outputs(md *sensor.Metadata) []*tensor.Dense {
	return md.Outputs
}

// InputSize returns the network input size.
func (c *DNNCamera) InputSize() sensor.Geometry {
	return c.cfg.Input
}

func (c *DNNCamera) ConvertInferenceCoords(coords sensor.Coords, md *sensor.Metadata, geom sensor.Geometry) detection.Box {
	return sensor.Mapper{}.ConvertInferenceCoords(coords, md, geom)
}

func (c *DNNCamera) ROIScaled(md *sensor.Metadata) detection.Box {
	return sensor.Mapper{}.ROIScaled(md, c.cfg.Input)
}

// SetAutoAspectRatio makes the next frame pick an inference ROI matching the network's aspect ratio.
func (c *DNNCamera) SetAutoAspectRatio() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.autoROI = true
	c.roi = image.Rectangle{}
}

// CaptureFile writes the most recent composited frame.
func (c *DNNCamera) CaptureFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrCameraNotOpen
	}
	if c.composite.Empty() {
		return ErrNoPreview
	}
	if ok := gocv.IMWrite(path, c.composite); !ok {
		return fmt.Errorf("failed to write %v", path)
	}
	return nil
}

// Preview returns a copy of the most recent composited frame.
func (c *DNNCamera) Preview() (gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return gocv.NewMat(), ErrCameraNotOpen
	}
	if c.composite.Empty() {
		return gocv.NewMat(), ErrNoPreview
	}
	return c.composite.Clone(), nil
}

// SetPreCallback sets the function applied to each frame before it is stored.
func (c *DNNCamera) SetPreCallback(fn PreCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pre = fn
}
