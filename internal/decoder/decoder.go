// Package decoder turns raw network output tensors into detections.
package decoder

import (
	"errors"
	"fmt"

	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/intrinsics"
	"github.com/ayusman/aicam/internal/sensor"
	"gorgonia.org/tensor"
)

// ErrShape is returned when the output tensors do not have the layout the convention expects.
var ErrShape = errors.New("unexpected output tensor shape")

// Params hold the filtering knobs.
type Params struct {
	// Threshold is the minimum confidence, exclusive.
	Threshold    float32
	IoUThreshold float32
	// MaxDetections caps the nanodet result. Zero or less means no cap.
	MaxDetections int
}

// DefaultParams returns the standard filtering knobs.
func DefaultParams() Params {
	return Params{
		Threshold:     0.55,
		IoUThreshold:  0.65,
		MaxDetections: 10,
	}
}

// Convention is the layout of a network's output tensors. It is either Nanodet or Generic.
type Convention interface {
	isConvention()
	String() string
}

// Generic is the three tensor layout of detectors with built-in post-processing:
// boxes [1,N,4] ordered y0,x0,y1,x1, scores [1,N] and classes [1,N].
type Generic struct {
	// BBoxNormalization means boxes are normalized to the input and must be scaled to pixels.
	BBoxNormalization bool
}

func (Generic) isConvention() {}

func (Generic) String() string { return "generic" }

// ConventionFor picks the output convention described by the network intrinsics.
func ConventionFor(in *intrinsics.Intrinsics) Convention {
	if in.IsNanodet() {
		return Nanodet{
			Classes: in.NanodetClasses,
			RegMax:  in.NanodetRegMax,
			Strides: in.NanodetStrides,
			Sigmoid: in.NanodetSigmoid,
		}.withDefaults()
	}
	return Generic{BBoxNormalization: in.BBoxNormalization}
}

// candidate is a box in model-input pixels that has not been thresholded yet.
type candidate struct {
	coords sensor.Coords
	score  float32
	class  int
}

// Decoder converts output tensors to detections, remembering the last result.
// It is not safe for concurrent use; the frame loop is its only caller.
type Decoder struct {
	conv      Convention
	params    Params
	converter sensor.Converter

	previous []detection.Detection
}

// New creates a decoder.
func New(conv Convention, params Params, converter sensor.Converter) *Decoder {
	return &Decoder{
		conv:      conv,
		params:    params,
		converter: converter,
	}
}

// Convention returns the output layout the decoder was built for.
func (d *Decoder) Convention() Convention {
	return d.conv
}

// Decode converts one frame's output tensors. When outputs is empty the previous frame's
// result is returned unchanged, which is nil before the first successful decode.
func (d *Decoder) Decode(outputs []*tensor.Dense, md *sensor.Metadata, geom sensor.Geometry) ([]detection.Detection, error) {
	if len(outputs) == 0 {
		return d.previous, nil
	}

	var cands []candidate
	var err error
	switch c := d.conv.(type) {
	case Nanodet:
		cands, err = decodeNanodet(outputs[0], c, d.params, geom)
	case Generic:
		cands, err = decodeGeneric(outputs, c, geom)
	default:
		err = fmt.Errorf("unknown output convention %T", d.conv)
	}
	if err != nil {
		return nil, err
	}

	dets := make([]detection.Detection, 0, len(cands))
	for _, c := range cands {
		if c.score > d.params.Threshold {
			box := d.converter.ConvertInferenceCoords(c.coords, md, geom)
			dets = append(dets, detection.New(box, c.class, c.score))
		}
	}
	d.previous = dets
	return dets, nil
}

func decodeGeneric(outputs []*tensor.Dense, g Generic, geom sensor.Geometry) ([]candidate, error) {
	if len(outputs) < 3 {
		return nil, fmt.Errorf("%w: generic output needs 3 tensors, got %d", ErrShape, len(outputs))
	}
	n, cols, err := matrixShape(outputs[0])
	if err != nil {
		return nil, fmt.Errorf("boxes: %w", err)
	}
	if cols != 4 {
		return nil, fmt.Errorf("%w: boxes have %d columns, want 4", ErrShape, cols)
	}
	boxes, err := float32Data(outputs[0])
	if err != nil {
		return nil, fmt.Errorf("boxes: %w", err)
	}
	scores, err := vectorData(outputs[1], n)
	if err != nil {
		return nil, fmt.Errorf("scores: %w", err)
	}
	classes, err := vectorData(outputs[2], n)
	if err != nil {
		return nil, fmt.Errorf("classes: %w", err)
	}

	scale := float32(1)
	if g.BBoxNormalization {
		scale = float32(geom.Height)
	}

	cands := make([]candidate, n)
	for i := range cands {
		b := boxes[i*4 : i*4+4]
		cands[i] = candidate{
			coords: sensor.Coords{b[0] * scale, b[1] * scale, b[2] * scale, b[3] * scale},
			score:  scores[i],
			class:  int(classes[i]),
		}
	}
	return cands, nil
}

// matrixShape returns rows and columns of a [1,R,C] or [R,C] tensor.
func matrixShape(t *tensor.Dense) (int, int, error) {
	shape := t.Shape()
	switch {
	case len(shape) == 3 && shape[0] == 1:
		return shape[1], shape[2], nil
	case len(shape) == 2:
		return shape[0], shape[1], nil
	}
	return 0, 0, fmt.Errorf("%w: %v is not a matrix", ErrShape, shape)
}

// vectorData returns the n values of a [1,N] or [N] tensor.
func vectorData(t *tensor.Dense, n int) ([]float32, error) {
	shape := t.Shape()
	size := -1
	switch {
	case len(shape) == 2 && shape[0] == 1:
		size = shape[1]
	case len(shape) == 1:
		size = shape[0]
	}
	if size != n {
		return nil, fmt.Errorf("%w: %v, want %d values", ErrShape, shape, n)
	}
	return float32Data(t)
}

func float32Data(t *tensor.Dense) ([]float32, error) {
	switch data := t.Data().(type) {
	case []float32:
		return data, nil
	case float32:
		return []float32{data}, nil
	}
	return nil, fmt.Errorf("%w: element type %v, want float32", ErrShape, t.Dtype())
}
