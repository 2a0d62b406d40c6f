// Package environment implements the event-driven environment detector:
// full-screen exits, tab visibility changes, and end of screen sharing.
//
// Unlike the polled detectors, this one only reacts to host signals; it has
// no capture step and no rate limit of its own.
package environment

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"proctord/internal/capability"
	"proctord/internal/detector"
	"proctord/internal/event"
)

// Detector watches the session environment signals.
type Detector struct {
	fullscreen capability.Fullscreen
	visibility capability.Visibility
	display    capability.Display
	logger     *slog.Logger
	now        func() time.Time

	events chan event.Violation

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an environment detector. Any of the three signal sources may
// be nil, which disables that signal.
func New(fullscreen capability.Fullscreen, visibility capability.Visibility, display capability.Display, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		fullscreen: fullscreen,
		visibility: visibility,
		display:    display,
		logger:     logger.With("component", "environment_detector"),
		now:        time.Now,
		events:     make(chan event.Violation, 16),
	}
}

// Name implements detector.Detector.
func (d *Detector) Name() string { return "environment_detector" }

// Events implements detector.Detector.
func (d *Detector) Events() <-chan event.Violation { return d.events }

// Start begins listening for environment signals.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return detector.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go d.loop(ctx)

	return nil
}

// Stop halts the detector and closes its event channel.
func (d *Detector) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	close(d.events)
	return nil
}

func (d *Detector) loop(ctx context.Context) {
	defer d.wg.Done()

	var fullscreenChanges <-chan bool
	if d.fullscreen != nil {
		fullscreenChanges = d.fullscreen.Changes()
	}
	var visibilityChanges <-chan bool
	if d.visibility != nil {
		visibilityChanges = d.visibility.Changes()
	}
	var shareEnded <-chan struct{}
	if d.display != nil {
		shareEnded = d.display.Done()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case active, ok := <-fullscreenChanges:
			if !ok {
				fullscreenChanges = nil
				continue
			}
			if !active {
				d.emit(ctx, event.New(event.TypeFullscreenExit,
					"user exited full-screen mode", d.now()))
			}

		case visible, ok := <-visibilityChanges:
			if !ok {
				visibilityChanges = nil
				continue
			}
			if !visible {
				d.emit(ctx, event.New(event.TypeTabSwitch,
					"user switched tabs or minimized window", d.now()))
			}

		case <-shareEnded:
			d.emit(ctx, event.New(event.TypeScreenShareEnded,
				"screen sharing stopped by user", d.now()))
			// The capture is gone; nothing further to watch on it.
			shareEnded = nil
		}
	}
}

func (d *Detector) emit(ctx context.Context, v event.Violation) {
	select {
	case d.events <- v:
	case <-ctx.Done():
	}
}
