// Package overlay draws the latest detections onto camera frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/labels"
	"github.com/ayusman/aicam/internal/sensor"
	"gocv.io/x/gocv"
)

const (
	fontScale       = 0.5
	labelAlpha      = 0.30
	boxThickness    = 2
	textOffsetX     = 5
	textOffsetY     = 15
	textThickness   = 1
	roiText         = "ROI"
	roiBoxThickness = 1
)

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	red   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	green = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// ROIFunc returns the inference ROI of a frame in output pixels.
type ROIFunc func(md *sensor.Metadata) detection.Box

// Renderer draws the detections held in a shared Latest.
type Renderer struct {
	labels *labels.Catalog
	latest *detection.Latest
	roi    ROIFunc
}

// New creates a renderer. A nil roi disables the ROI outline.
func New(labels *labels.Catalog, latest *detection.Latest, roi ROIFunc) *Renderer {
	return &Renderer{
		labels: labels,
		latest: latest,
		roi:    roi,
	}
}

// Draw renders the current detections onto frame. It has the shape of a camera pre-frame callback.
func (r *Renderer) Draw(frame *gocv.Mat, md *sensor.Metadata) error {
	dets := r.latest.Load()
	if dets == nil || frame.Empty() {
		return nil
	}

	for _, d := range dets {
		b := d.Box()
		text := fmt.Sprintf("%s (%.2f)", r.labels.Label(d.Category()), d.Confidence())
		tx := b.X + textOffsetX
		ty := b.Y + textOffsetY

		size, baseline := gocv.GetTextSizeWithBaseline(text, gocv.FontHersheySimplex, fontScale, textThickness)
		bg := image.Rect(tx, ty-size.Y, tx+size.X, ty+baseline)
		if err := blendRect(frame, bg, white, labelAlpha); err != nil {
			return err
		}
		if err := gocv.PutText(frame, text, image.Pt(tx, ty), gocv.FontHersheySimplex, fontScale, red, textThickness); err != nil {
			return fmt.Errorf("draw label: %w", err)
		}
		if err := gocv.Rectangle(frame, image.Rect(b.X, b.Y, b.X2(), b.Y2()), green, boxThickness); err != nil {
			return fmt.Errorf("draw box: %w", err)
		}
	}

	if r.roi != nil {
		b := r.roi(md)
		if err := gocv.PutText(frame, roiText, image.Pt(b.X+textOffsetX, b.Y+textOffsetY), gocv.FontHersheySimplex, fontScale, red, textThickness); err != nil {
			return fmt.Errorf("draw roi label: %w", err)
		}
		if err := gocv.Rectangle(frame, image.Rect(b.X, b.Y, b.X2(), b.Y2()), red, roiBoxThickness); err != nil {
			return fmt.Errorf("draw roi: %w", err)
		}
	}
	return nil
}

// blendRect fills rect with c at the given opacity. Parts of rect outside the frame are ignored.
func blendRect(frame *gocv.Mat, rect image.Rectangle, c color.RGBA, alpha float64) error {
	rect = rect.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if rect.Empty() {
		return nil
	}

	region := frame.Region(rect)
	defer region.Close()

	fill := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0), rect.Dy(), rect.Dx(), frame.Type())
	defer fill.Close()

	if err := gocv.AddWeighted(fill, alpha, region, 1-alpha, 0, &region); err != nil {
		return fmt.Errorf("blend label background: %w", err)
	}
	return nil
}
