package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/metrics"
	"github.com/ayusman/aicam/internal/sensor"
	"github.com/ayusman/aicam/internal/store"
)

// Run opens the camera and processes frames until ctx is canceled, which is not an error.
// Capture, decode, persist and publish run one after another for every frame. Any other
// failure stops the loop and is returned.
//
// Per frame:
// 1. Wait for the next frame and its network outputs
// 2. Decode the outputs (a frame without outputs repeats the previous result)
// 3. Save the frame, overlay included, under the image root
// 4. Publish the detections and report each of them
func (a *App) Run(ctx context.Context) error {
	if err := a.camera.Open(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return fmt.Errorf("open camera: %w", err)
	}
	defer func() {
		if err := a.camera.Close(); err != nil {
			a.log.Warnf("Error closing camera: %v", err)
		}
	}()

	a.log.Infof("Frame loop started, saving frames to %v", a.saver.Root())
	var frames int
	for {
		if err := a.processFrame(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				a.log.Infof("Frame loop stopped after %d frames", frames)
				return nil
			}
			return err
		}
		frames++
		if a.config.StatsEvery > 0 && frames%a.config.StatsEvery == 0 {
			a.log.Infof("Stage timing: %v", a.times.Summary())
		}
	}
}

func (a *App) processFrame(ctx context.Context) error {
	start := time.Now()
	md, err := a.camera.CaptureMetadata(ctx)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	a.observe(metrics.StageCapture, start)
	a.metrics.Frames.Inc()

	start = time.Now()
	outputs := a.camera.Outputs(md)
	if len(outputs) == 0 {
		a.metrics.StaleFrames.Inc()
	}
	dets, err := a.decoder.Decode(outputs, md, a.camera.InputSize())
	if err != nil {
		return fmt.Errorf("decode frame %d: %w", md.Sequence, err)
	}
	a.observe(metrics.StageDecode, start)

	start = time.Now()
	path, err := a.saver.Save(a.camera.CaptureFile)
	if err != nil {
		return err
	}
	a.metrics.SavedFrames.Inc()
	a.observe(metrics.StagePersist, start)

	start = time.Now()
	a.latest.Store(dets)
	for _, d := range dets {
		label := a.labels.Label(d.Category())
		a.log.Infof("Detected %d %s (%.2f)", d.Category(), label, d.Confidence())
		a.metrics.Detections.WithLabelValues(label).Inc()
	}
	if a.store != nil && a.IsRecording() {
		a.record(path, md, dets)
	}
	a.observe(metrics.StagePublish, start)
	return nil
}

// record adds a saved frame to the history. A failed insert is logged and the loop goes on.
func (a *App) record(path string, md *sensor.Metadata, dets []detection.Detection) {
	f := &store.Frame{
		Path:       path,
		Sequence:   md.Sequence,
		CapturedAt: md.Timestamp,
		Detections: make([]store.Detection, 0, len(dets)),
	}
	for _, d := range dets {
		b := d.Box()
		f.Detections = append(f.Detections, store.Detection{
			Category:   d.Category(),
			Label:      a.labels.Label(d.Category()),
			Confidence: float64(d.Confidence()),
			X:          b.X,
			Y:          b.Y,
			Width:      b.Width,
			Height:     b.Height,
		})
	}
	if err := a.store.Frames().Create(f); err != nil {
		a.log.Warnf("Failed to record frame %v: %v", path, err)
	}
}

func (a *App) observe(stage string, start time.Time) {
	d := time.Since(start)
	a.metrics.ObserveStage(stage, d)
	a.times.Add(stage, d)
}
