// Package sensor maps inference results from model-input space onto the output image.
//
// Three coordinate spaces are involved. The network sees an input tensor of Geometry size,
// taken from the inference ROI of the full sensor. The ISP output image is produced from the
// ScalerCrop rectangle of the full sensor, resized to OutputSize.
package sensor

import (
	"image"
	"math"
	"time"

	"github.com/ayusman/aicam/internal/detection"
	"gorgonia.org/tensor"
)

// Geometry is the width and height of the network input tensor.
type Geometry struct {
	Width  int
	Height int
}

// Point returns g as an image.Point.
func (g Geometry) Point() image.Point {
	return image.Pt(g.Width, g.Height)
}

// Metadata describes one captured frame.
type Metadata struct {
	Sequence  uint64
	Timestamp time.Time

	// SensorSize is the full sensor resolution.
	SensorSize image.Point
	// ScalerCrop is the sensor area, in full sensor pixels, that was scaled to OutputSize.
	ScalerCrop image.Rectangle
	// OutputSize is the size of the main output stream.
	OutputSize image.Point
	// InferenceROI is the sensor area fed to the network. Empty means the full sensor.
	InferenceROI image.Rectangle

	// Outputs holds the network output tensors for this frame. It is nil when the
	// accelerator had nothing ready.
	Outputs []*tensor.Dense
}

func (md *Metadata) sensorSize(geom Geometry) image.Point {
	if md.SensorSize.X > 0 && md.SensorSize.Y > 0 {
		return md.SensorSize
	}
	if md.OutputSize.X > 0 && md.OutputSize.Y > 0 {
		return md.OutputSize
	}
	return geom.Point()
}

func (md *Metadata) scalerCrop(sensor image.Point) image.Rectangle {
	if md.ScalerCrop.Empty() {
		return image.Rectangle{Max: sensor}
	}
	return md.ScalerCrop
}

func (md *Metadata) outputSize(sensor image.Point) image.Point {
	if md.OutputSize.X > 0 && md.OutputSize.Y > 0 {
		return md.OutputSize
	}
	return sensor
}

func (md *Metadata) inferenceROI(sensor image.Point) image.Rectangle {
	if md.InferenceROI.Empty() {
		return image.Rectangle{Max: sensor}
	}
	return md.InferenceROI
}

// Coords is a box in model-input pixels, ordered y0, x0, y1, x1.
type Coords [4]float32

// Converter maps inference coordinates into an output image box.
type Converter interface {
	ConvertInferenceCoords(c Coords, md *Metadata, geom Geometry) detection.Box
}

// Mapper is the standard Converter.
type Mapper struct{}

// ConvertInferenceCoords places c inside the inference ROI of the sensor, bounds it to the
// scaler crop, and scales the result to the output image.
func (Mapper) ConvertInferenceCoords(c Coords, md *Metadata, geom Geometry) detection.Box {
	if md == nil {
		md = &Metadata{}
	}
	if geom.Width <= 0 || geom.Height <= 0 {
		return detection.Box{}
	}
	sensor := md.sensorSize(geom)
	roi := md.inferenceROI(sensor)

	y0 := float64(c[0]) / float64(geom.Height)
	x0 := float64(c[1]) / float64(geom.Width)
	y1 := float64(c[2]) / float64(geom.Height)
	x1 := float64(c[3]) / float64(geom.Width)

	rw := float64(roi.Dx())
	rh := float64(roi.Dy())
	x := int(math.Round(max(x0*rw, 0)))
	y := int(math.Round(max(y0*rh, 0)))
	w := int(math.Round(max((x1-x0)*rw, 0)))
	h := int(math.Round(max((y1-y0)*rh, 0)))

	obj := image.Rect(roi.Min.X+x, roi.Min.Y+y, roi.Min.X+x+w, roi.Min.Y+y+h)
	return toOutput(obj, md.scalerCrop(sensor), md.outputSize(sensor))
}

// ROIScaled returns the inference ROI expressed in output image pixels.
func (Mapper) ROIScaled(md *Metadata, geom Geometry) detection.Box {
	if md == nil {
		md = &Metadata{}
	}
	sensor := md.sensorSize(geom)
	return toOutput(md.inferenceROI(sensor), md.scalerCrop(sensor), md.outputSize(sensor))
}

// toOutput bounds r (sensor pixels) to crop and scales it to an image of size out.
func toOutput(r, crop image.Rectangle, out image.Point) detection.Box {
	if crop.Empty() {
		return detection.Box{}
	}
	r = image.Rect(
		clamp(r.Min.X, crop.Min.X, crop.Max.X),
		clamp(r.Min.Y, crop.Min.Y, crop.Max.Y),
		clamp(r.Max.X, crop.Min.X, crop.Max.X),
		clamp(r.Max.Y, crop.Min.Y, crop.Max.Y),
	).Sub(crop.Min)

	sx := float64(out.X) / float64(crop.Dx())
	sy := float64(out.Y) / float64(crop.Dy())
	x := int(float64(r.Min.X) * sx)
	y := int(float64(r.Min.Y) * sy)
	return detection.Box{
		X:      x,
		Y:      y,
		Width:  int(float64(r.Max.X)*sx) - x,
		Height: int(float64(r.Max.Y)*sy) - y,
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// AspectROI returns the largest rectangle centered on the sensor with the same aspect
// ratio as the network input. Cameras use it as the inference ROI when the model wants
// its aspect ratio preserved.
func AspectROI(sensor image.Point, geom Geometry) image.Rectangle {
	if sensor.X <= 0 || sensor.Y <= 0 || geom.Width <= 0 || geom.Height <= 0 {
		return image.Rectangle{Max: sensor}
	}
	w := sensor.X
	h := sensor.X * geom.Height / geom.Width
	if h > sensor.Y {
		h = sensor.Y
		w = sensor.Y * geom.Width / geom.Height
	}
	x := (sensor.X - w) / 2
	y := (sensor.Y - h) / 2
	return image.Rect(x, y, x+w, y+h)
}
