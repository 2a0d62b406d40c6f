// Package detector defines the contract shared by all signal detectors and
// the polling runner that schedules them.
//
// Detectors are independent, side-effect-free event producers. Each runs on
// its own timer or signal source; none blocks another. A detector's next
// poll is never scheduled while a previous pass is still in flight, so a
// slow inference step degrades only its own cadence.
package detector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"proctord/internal/event"
)

var (
	// ErrAlreadyRunning is returned when Start is called while running.
	ErrAlreadyRunning = errors.New("detector: already running")

	// ErrNotRunning is returned for operations requiring a running detector.
	ErrNotRunning = errors.New("detector: not running")
)

// Detector is an independent violation producer.
type Detector interface {
	// Name identifies the detector in logs and diagnostics.
	Name() string

	// Start begins producing events until the context is cancelled.
	Start(ctx context.Context) error

	// Stop halts production and releases any borrowed handles.
	Stop() error

	// Events returns the detector's output channel. The channel is closed
	// after Stop returns.
	Events() <-chan event.Violation
}

// Poller drives a detector pass at a fixed interval. The pass function is
// called at most once at a time; ticks that arrive mid-pass are dropped
// rather than queued.
type Poller struct {
	name     string
	interval time.Duration
	pass     func(ctx context.Context)
	logger   *slog.Logger

	events chan event.Violation

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPoller creates a poller that runs pass every interval.
func NewPoller(name string, interval time.Duration, pass func(ctx context.Context), logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		name:     name,
		interval: interval,
		pass:     pass,
		logger:   logger.With("component", name),
		events:   make(chan event.Violation, 16),
	}
}

// Name returns the detector name.
func (p *Poller) Name() string { return p.name }

// Events returns the output channel.
func (p *Poller) Events() <-chan event.Violation { return p.events }

// Logger returns the poller's component logger.
func (p *Poller) Logger() *slog.Logger { return p.logger }

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.loop(ctx)

	return nil
}

// Stop halts polling, waits for any in-flight pass, and closes the event
// channel. Safe to call multiple times.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	close(p.events)
	return nil
}

// Emit delivers a violation to the output channel. It blocks until the
// consumer accepts the event or the context ends; counted events must not
// be dropped under load.
func (p *Poller) Emit(ctx context.Context, v event.Violation) {
	select {
	case p.events <- v:
	case <-ctx.Done():
	}
}

// loop runs one pass per tick, never overlapping passes.
func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}
