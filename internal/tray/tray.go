// Package tray provides a system tray menu to pause recording and see the latest detection.
package tray

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/labels"
	"github.com/getlantern/systray"
)

// RefreshInterval is how often the last detection entry is updated.
const RefreshInterval = time.Second

// Tray represents the system tray application.
type Tray struct {
	onToggle  func(recording bool)
	onPreview func()
	onQuit    func()
	recording bool
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

// New creates a new Tray showing the given recording state.
func New(recording bool) *Tray {
	return &Tray{
		recording: recording,
	}
}

// OnToggle sets the callback function to be called when recording is switched on or off.
func (t *Tray) OnToggle(fn func(recording bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnPreview sets the callback function to be called when the preview menu item is clicked.
func (t *Tray) OnPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPreview = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called and must run on the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("aicam")
	systray.SetTooltip("aicam object detection")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.recording), "Pause or resume the detection history")
	systray.AddSeparator()

	t.menuLast = systray.AddMenuItem("Last: none", "Most confident detection of the latest frame")
	t.menuLast.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuPreview := systray.AddMenuItem("Open Preview...", "Open the live preview in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit aicam")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuPreview.ClickedCh:
				t.handlePreview()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func toggleTitle(recording bool) string {
	if recording {
		return "● Recording"
	}
	return "○ Paused"
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.recording = !t.recording
	recording := t.recording
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(recording))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(recording)
	}
}

func (t *Tray) handlePreview() {
	t.mu.RLock()
	callback := t.onPreview
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetLast updates the last detection entry of the menu.
func (t *Tray) SetLast(text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLast != nil {
		t.menuLast.SetTitle("Last: " + text)
	}
}

// IsRecording returns the recording state shown in the menu.
func (t *Tray) IsRecording() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recording
}

// Follow keeps the last detection entry up to date until ctx is canceled.
func (t *Tray) Follow(ctx context.Context, latest *detection.Latest, cat *labels.Catalog) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	shown := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if text := Describe(latest.Load(), cat); text != shown {
			t.SetLast(text)
			shown = text
		}
	}
}

// Describe names the most confident detection, or "none".
func Describe(dets []detection.Detection, cat *labels.Catalog) string {
	if len(dets) == 0 {
		return "none"
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence() > best.Confidence() {
			best = d
		}
	}
	text := fmt.Sprintf("%s (%.2f)", cat.Label(best.Category()), best.Confidence())
	if len(dets) > 1 {
		text += fmt.Sprintf(" +%d", len(dets)-1)
	}
	return text
}
