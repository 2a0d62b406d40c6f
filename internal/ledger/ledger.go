// Package ledger implements the violation ledger state machine.
//
// The ledger is the single consumer of all detector events. It runs as one
// goroutine fed by a channel, so events are applied strictly in arrival
// order and concurrent detectors can never lose an increment. Counted
// events raise the violation count by their weight; advisory events surface
// a warning without touching the count. The first event that pushes the
// count above the limit schedules termination after a grace period, exactly
// once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"proctord/internal/audit"
	"proctord/internal/event"
)

// State of the ledger.
type State int

const (
	// StateIdle precedes Start.
	StateIdle State = iota
	// StateMonitoring means no violations have been recorded yet.
	StateMonitoring
	// StateWarning means violations exist but the count is within limit.
	StateWarning
	// StateCritical means the count exceeded the limit; termination is
	// scheduled.
	StateCritical
	// StateTerminated is terminal; no further mutation is possible.
	StateTerminated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMonitoring:
		return "monitoring"
	case StateWarning:
		return "warning"
	case StateCritical:
		return "critical"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyRunning is returned when Start is called while running.
	ErrAlreadyRunning = errors.New("ledger: already running")

	// ErrTerminated is returned when submitting to a terminated ledger.
	ErrTerminated = errors.New("ledger: terminated")
)

// Config controls ledger policy.
type Config struct {
	// Limit is the violation count above which severity turns critical.
	Limit int

	// GracePeriod is the delay between a critical outcome and the actual
	// termination call, giving the host UI time for a final notice.
	GracePeriod time.Duration

	// QueueSize bounds the event channel.
	QueueSize int
}

// DefaultConfig returns the standard ledger policy.
func DefaultConfig() Config {
	return Config{
		Limit:       5,
		GracePeriod: 3 * time.Second,
		QueueSize:   64,
	}
}

// Snapshot is a point-in-time copy of ledger state.
type Snapshot struct {
	State   State
	Count   int
	Limit   int
	History []event.Violation
}

// Ledger is the violation ledger actor.
type Ledger struct {
	config    Config
	sessionID string
	sink      audit.Sink
	logger    *slog.Logger

	// warnFn receives every warning, advisory and counted alike.
	warnFn func(event.Warning)

	// terminateFn is invoked at most once per session.
	terminateFn   func()
	terminateOnce sync.Once

	events chan event.Violation

	mu            sync.Mutex
	state         State
	count         int
	history       []event.Violation
	termScheduled bool
	termReason    string
	graceTimer    *time.Timer
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates a ledger. warnFn and terminateFn may be nil; sink must not.
func New(cfg Config, sessionID string, sink audit.Sink, warnFn func(event.Warning), terminateFn func(), logger *slog.Logger) *Ledger {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		config:      cfg,
		sessionID:   sessionID,
		sink:        sink,
		logger:      logger.With("component", "violation_ledger"),
		warnFn:      warnFn,
		terminateFn: terminateFn,
		events:      make(chan event.Violation, cfg.QueueSize),
		state:       StateIdle,
	}
}

// Start moves the ledger to Monitoring and begins consuming events.
func (l *Ledger) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateIdle {
		if l.state == StateTerminated {
			return ErrTerminated
		}
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.state = StateMonitoring

	l.wg.Add(1)
	go l.run(ctx)

	return nil
}

// Submit delivers a violation to the ledger. Blocks until the ledger
// accepts it or the context ends, so concurrent producers cannot lose an
// increment to backpressure.
func (l *Ledger) Submit(ctx context.Context, v event.Violation) error {
	l.mu.Lock()
	if l.state == StateTerminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	l.mu.Unlock()

	select {
	case l.events <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PreconditionFailed records a failed session precondition (display capture
// could not be acquired). It is surfaced through the warning channel with
// critical framing and count limit+1, and termination is scheduled; the
// actual violation count is untouched because no violation occurred.
func (l *Ledger) PreconditionFailed(detail string) {
	l.mu.Lock()
	if l.state == StateTerminated {
		l.mu.Unlock()
		return
	}
	l.state = StateCritical
	schedule := !l.termScheduled
	l.termScheduled = true
	l.termReason = detail
	count := l.count
	l.mu.Unlock()

	l.record(audit.EventScreenShareDenied, detail, 0, count)
	l.warn(event.Warning{
		Message:        "Screen sharing is required to continue. The session cannot proceed.",
		Severity:       event.SeverityCritical,
		ViolationCount: l.config.Limit + 1,
		ViolationType:  event.TypeScreenShareEnded,
	})

	if schedule {
		l.scheduleTermination()
	}
}

// Terminate stops the ledger without invoking the termination callback.
// Used by the orchestrator's cleanup path. Idempotent.
func (l *Ledger) Terminate() {
	l.mu.Lock()
	if l.state == StateTerminated {
		l.mu.Unlock()
		return
	}
	l.state = StateTerminated
	if l.graceTimer != nil {
		l.graceTimer.Stop()
	}
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

// Snapshot returns a copy of the current ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := make([]event.Violation, len(l.history))
	copy(history, l.history)

	return Snapshot{
		State:   l.state,
		Count:   l.count,
		Limit:   l.config.Limit,
		History: history,
	}
}

// run is the single consumer loop; arrival order is authoritative.
func (l *Ledger) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-l.events:
			l.apply(v)
		}
	}
}

// apply processes one event under the ledger's critical section.
func (l *Ledger) apply(v event.Violation) {
	if v.Type.Class() == event.ClassAdvisory {
		l.applyAdvisory(v)
		return
	}

	l.mu.Lock()
	if l.state == StateTerminated {
		l.mu.Unlock()
		return
	}

	l.count += v.Weight
	l.history = append(l.history, v)
	count := l.count

	severity := event.SeverityWarning
	if count > l.config.Limit {
		severity = event.SeverityCritical
		l.state = StateCritical
	} else {
		l.state = StateWarning
	}

	schedule := severity == event.SeverityCritical && !l.termScheduled
	if schedule {
		l.termScheduled = true
	}
	l.mu.Unlock()

	l.logger.Info("violation recorded",
		"type", v.Type,
		"weight", v.Weight,
		"count", count,
		"limit", l.config.Limit,
		"severity", severity,
	)

	l.record(string(v.Type), v.Detail, v.Weight, count)
	l.warn(event.Warning{
		Message:        warningMessage(v.Type, count, l.config.Limit),
		Severity:       severity,
		ViolationCount: count,
		ViolationType:  v.Type,
	})

	if schedule {
		l.scheduleTermination()
	}
}

// applyAdvisory surfaces a warning without incrementing the count.
func (l *Ledger) applyAdvisory(v event.Violation) {
	l.mu.Lock()
	if l.state == StateTerminated {
		l.mu.Unlock()
		return
	}
	count := l.count
	l.mu.Unlock()

	l.record(string(v.Type), v.Detail, 0, count)
	l.warn(event.Warning{
		Message:        warningMessage(v.Type, count, l.config.Limit),
		Severity:       event.SeverityWarning,
		ViolationCount: count,
		ViolationType:  v.Type,
	})
}

// scheduleTermination arms the grace timer. Callers hold the "termination
// already scheduled" guard, so this runs at most once per session.
func (l *Ledger) scheduleTermination() {
	l.logger.Warn("violation limit exceeded, termination scheduled",
		"grace_period", l.config.GracePeriod)

	l.mu.Lock()
	l.graceTimer = time.AfterFunc(l.config.GracePeriod, l.fireTermination)
	l.mu.Unlock()
}

// fireTermination ends the session after the grace period. The audit detail
// names the actual cause: a failed precondition carries its own reason, a
// limit breach is described by the count.
func (l *Ledger) fireTermination() {
	l.mu.Lock()
	if l.state == StateTerminated {
		// External cleanup won the race; nothing to do.
		l.mu.Unlock()
		return
	}
	count := l.count
	reason := l.termReason
	l.mu.Unlock()

	if reason == "" {
		reason = fmt.Sprintf("violation limit exceeded (%d/%d)", count, l.config.Limit)
	}
	l.record(audit.EventSessionTerminated,
		reason+" - session terminated", 0, count)

	l.terminateOnce.Do(func() {
		if l.terminateFn != nil {
			l.terminateFn()
		}
	})
}

// record writes to the audit sink; failures are logged, never propagated.
func (l *Ledger) record(eventType, detail string, increment, count int) {
	rec := audit.Record{
		SessionID:    l.sessionID,
		EventType:    eventType,
		Detail:       fmt.Sprintf("%s | violation count: %d/%d", detail, count, l.config.Limit),
		Timestamp:    time.Now().UTC(),
		Increment:    increment,
		RunningCount: count,
	}
	if err := l.sink.Append(context.Background(), rec); err != nil {
		l.logger.Error("audit append failed", "event_type", eventType, "error", err)
	}
}

func (l *Ledger) warn(w event.Warning) {
	if l.warnFn != nil {
		l.warnFn(w)
	}
}

// warningMessage builds the user-facing message for an event type.
func warningMessage(t event.Type, count, limit int) string {
	var base string
	switch t {
	case event.TypeTabSwitch:
		base = "Stay focused on the assessment."
	case event.TypeFullscreenExit:
		base = "Please return to full-screen immediately."
	case event.TypeMultipleFaces:
		base = "Only you should be visible."
	case event.TypeNoFace:
		return "No face detected. Please ensure your face is visible to the camera."
	case event.TypeGazeAway:
		base = "Please focus on the screen."
	case event.TypeBackgroundNoise:
		base = "Background noise detected. Ensure a quiet environment."
	case event.TypeMultipleVoices:
		base = "Multiple people detected. Only you should be present."
	case event.TypeIdentityMismatch:
		base = "Identity verification failed."
	case event.TypeScreenShareEnded:
		base = "Screen sharing is required."
	default:
		base = "Integrity violation recorded."
	}
	return fmt.Sprintf("%s Violations: %d/%d", base, count, limit)
}
