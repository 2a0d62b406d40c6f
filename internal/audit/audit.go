// Package audit implements the append-only audit trail for monitoring
// sessions. Every detector observation and lifecycle transition is recorded
// with its violation increment and the running count at the time it was
// applied.
//
// Writes are fire-and-forget from the engine's point of view: a failing
// sink is logged locally and never blocks or fails detection.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"
)

// Lifecycle event types recorded alongside detector events.
const (
	EventMonitoringStarted  = "monitoring_started"
	EventMonitoringStopped  = "monitoring_stopped"
	EventScreenShareStarted = "screen_share_started"
	EventScreenShareDenied  = "screen_share_denied"
	EventSessionTerminated  = "session_terminated"
)

// ErrClosed is returned when appending to a closed sink.
var ErrClosed = errors.New("audit: sink closed")

// Record is one append-only audit entry.
type Record struct {
	SessionID    string    `json:"session_id"`
	EventType    string    `json:"event_type"`
	Detail       string    `json:"detail"`
	Timestamp    time.Time `json:"timestamp"`
	Increment    int       `json:"violation_increment"`
	RunningCount int       `json:"running_count"`
}

// Sink is an append-only destination for audit records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// NopSink discards all records. Used when auditing is disabled.
type NopSink struct{}

// Append implements Sink.
func (NopSink) Append(ctx context.Context, rec Record) error { return nil }

// Close implements Sink.
func (NopSink) Close() error { return nil }

// AsyncSink decouples the engine from sink latency. Records are queued and
// written by a background goroutine; when the queue is full the record is
// dropped with a local log entry rather than stalling a detector.
type AsyncSink struct {
	inner  Sink
	logger *slog.Logger

	queue chan Record

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncSink wraps inner with an asynchronous writer.
func NewAsyncSink(inner Sink, queueSize int, logger *slog.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &AsyncSink{
		inner:  inner,
		logger: logger.With("component", "audit_sink"),
		queue:  make(chan Record, queueSize),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Append queues a record for writing. Never blocks: the enqueue is
// non-blocking and runs under the same mutex that guards Close, so a
// straggler Append can never hit a closed queue.
func (s *AsyncSink) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	select {
	case s.queue <- rec:
		return nil
	default:
		s.logger.Warn("audit queue full, dropping record",
			"event_type", rec.EventType)
		return nil
	}
}

// Close drains the queue, then closes the inner sink. Safe to call twice.
// The queue is closed under the mutex; see Append.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.inner.Close()
}

func (s *AsyncSink) run() {
	defer s.wg.Done()

	for rec := range s.queue {
		if err := s.inner.Append(context.Background(), rec); err != nil {
			s.logger.Error("audit append failed",
				"event_type", rec.EventType, "error", err)
		}
	}
}
