// Package detection provides the per-frame detection value type, its JSON encoding,
// and the shared holder for the most recent frame's detections.
package detection

import (
	"encoding/json"
	"fmt"
	"os"
)

// Box is a pixel-space rectangle in the output image.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// X2 returns the right edge of the box.
func (b Box) X2() int {
	return b.X + b.Width
}

// Y2 returns the bottom edge of the box.
func (b Box) Y2() int {
	return b.Y + b.Height
}

// Area returns width * height.
func (b Box) Area() int {
	return b.Width * b.Height
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Detection is an object found in one frame. It is never modified after New returns.
type Detection struct {
	box        Box
	category   int
	confidence float32
}

// New creates a Detection. Callers filter on confidence before constructing.
func New(box Box, category int, confidence float32) Detection {
	return Detection{
		box:        box,
		category:   category,
		confidence: confidence,
	}
}

// Box returns the bounding box in output-image pixels.
func (d Detection) Box() Box {
	return d.box
}

// Category returns the raw class index produced by the model.
func (d Detection) Category() int {
	return d.category
}

// Confidence returns the detection score in [0,1].
func (d Detection) Confidence() float32 {
	return d.confidence
}

// String formats the detection as "<category> (<confidence>)".
func (d Detection) String() string {
	return fmt.Sprintf("%d (%.2f)", d.category, d.confidence)
}

type jsonDetection struct {
	Box      [4]int  `json:"box"`
	Category int     `json:"category"`
	Conf     float64 `json:"conf"`
}

// MarshalJSON encodes the detection as {"box": [x, y, w, h], "category": n, "conf": f}.
func (d Detection) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonDetection{
		Box:      [4]int{d.box.X, d.box.Y, d.box.Width, d.box.Height},
		Category: d.category,
		Conf:     float64(d.confidence),
	})
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var j jsonDetection
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*d = New(Box{X: j.Box[0], Y: j.Box[1], Width: j.Box[2], Height: j.Box[3]}, j.Category, float32(j.Conf))
	return nil
}

// WriteJSONFile writes v as indented JSON to filename, truncating any existing file.
func WriteJSONFile(filename string, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode detections: %w", err)
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}
