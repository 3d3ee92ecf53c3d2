package detection

import (
	"go.uber.org/atomic"
)

// Latest holds the detections of the most recently processed frame.
// There is one writer (the frame loop) and any number of readers. Store replaces the
// whole slice, so readers never see a partially updated list, only a possibly stale one.
type Latest struct {
	p atomic.Pointer[[]Detection]
}

// NewLatest returns an empty holder.
func NewLatest() *Latest {
	return &Latest{}
}

// Store publishes dets as the current list. The caller must not modify dets afterwards.
func (l *Latest) Store(dets []Detection) {
	l.p.Store(&dets)
}

// Load returns the current list, or nil if nothing was stored yet.
func (l *Latest) Load() []Detection {
	p := l.p.Load()
	if p == nil {
		return nil
	}
	return *p
}
