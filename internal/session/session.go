// Package session orchestrates one proctored assessment session: capability
// acquisition, the calibration wizard, detector lifecycles, the violation
// ledger, and end-of-session reporting.
//
// A session moves strictly forward: Start acquires and launches everything,
// Stop tears it all down. Both are idempotent, and every acquired capability
// is released exactly once regardless of which path ends the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"proctord/internal/audit"
	"proctord/internal/calibration"
	"proctord/internal/capability"
	"proctord/internal/config"
	"proctord/internal/detector"
	"proctord/internal/detector/audio"
	"proctord/internal/detector/environment"
	"proctord/internal/detector/vision"
	"proctord/internal/event"
	"proctord/internal/identity"
	"proctord/internal/ledger"
	"proctord/internal/report"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("session: already started")

// Settings is the session policy assembled from the daemon configuration.
type Settings struct {
	ViolationLimit     int
	GracePeriod        time.Duration
	RequireScreenShare bool
	RequireFullscreen  bool

	CalibrationEnabled bool
	Calibration        calibration.Config

	VisionEnabled bool
	Vision        vision.Config

	AudioEnabled bool
	Audio        audio.Config

	ReportDir string
}

// SettingsFromConfig maps the daemon configuration onto session policy.
func SettingsFromConfig(cfg *config.Config) Settings {
	cal := calibration.DefaultConfig()
	cal.Countdown = time.Duration(cfg.Calibration.CountdownSec) * time.Second
	cal.MaxAttempts = cfg.Calibration.MaxAttempts

	vis := vision.DefaultConfig()
	vis.Interval = time.Duration(cfg.Vision.IntervalSec) * time.Second
	vis.GazeAwayAfter = time.Duration(cfg.Vision.GazeAwaySec) * time.Second
	vis.GazeRearm = time.Duration(cfg.Vision.GazeRearmSec) * time.Second
	vis.IdentityInterval = time.Duration(cfg.Vision.IdentityIntervalSec) * time.Second

	aud := audio.DefaultConfig()
	aud.SpeechThreshold = cfg.Audio.SpeechThreshold
	aud.AmbientThreshold = cfg.Audio.AmbientThreshold
	aud.VariationThreshold = cfg.Audio.VariationThreshold
	aud.Cooldown = time.Duration(cfg.Audio.CooldownSec) * time.Second

	return Settings{
		ViolationLimit:     cfg.Session.ViolationLimit,
		GracePeriod:        cfg.GracePeriod(),
		RequireScreenShare: cfg.Session.RequireScreenShare,
		RequireFullscreen:  cfg.Session.RequireFullscreen,
		CalibrationEnabled: cfg.Calibration.Enabled,
		Calibration:        cal,
		VisionEnabled:      cfg.Vision.Enabled,
		Vision:             vis,
		AudioEnabled:       cfg.Audio.Enabled,
		Audio:              aud,
		ReportDir:          cfg.Storage.ReportDir,
	}
}

// Callbacks surface session events to the host UI layer. All fields are
// optional.
type Callbacks struct {
	// OnWarning receives every ledger warning.
	OnWarning func(event.Warning)

	// OnTerminate fires at most once, when the ledger ends the session.
	OnTerminate func()

	// OnCalibrationTarget fires before each calibration fixation target.
	OnCalibrationTarget func(index int, target calibration.Target)
}

// Status is a point-in-time view of the session for diagnostics.
type Status struct {
	ID             string
	State          string
	StartedAt      time.Time
	ViolationCount int
	ViolationLimit int
	Detectors      []string
}

// Session is one proctored assessment session.
type Session struct {
	id        string
	settings  Settings
	callbacks Callbacks
	logger    *slog.Logger

	manager    *capability.Manager
	comparator identity.Comparator
	sink       audit.Sink
	ledger     *ledger.Ledger
	detectors  []detector.Detector

	startedAt time.Time

	criticalWarnings atomic.Int64
	ordinaryWarnings atomic.Int64
	terminated       atomic.Bool
	terminateOnce    sync.Once

	mu         sync.Mutex
	started    bool
	stopped    bool
	cancel     context.CancelFunc
	forwarders sync.WaitGroup
	reportPath string
}

// New creates a session over the given capability provider. comparator may
// be nil, which disables identity verification.
func New(settings Settings, provider capability.Provider, comparator identity.Comparator, sink audit.Sink, callbacks Callbacks, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = audit.NopSink{}
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		settings:   settings,
		callbacks:  callbacks,
		logger:     logger.With("component", "session", "session_id", id),
		manager:    capability.NewManager(provider, logger),
		comparator: comparator,
		sink:       sink,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start acquires capabilities, runs calibration, and launches monitoring.
//
// A denied display capture when screen sharing is required is not an error:
// the session starts directly into its critical termination path, mirroring
// how any other integrity failure ends it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.startedAt = time.Now()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	led := ledger.New(
		ledger.Config{Limit: s.settings.ViolationLimit, GracePeriod: s.settings.GracePeriod},
		s.id, s.sink, s.onWarning, s.onLedgerTerminate, s.logger,
	)
	if err := led.Start(runCtx); err != nil {
		return fmt.Errorf("start ledger: %w", err)
	}
	// Published under the mutex: the IPC status path may observe the
	// session mid-startup.
	s.mu.Lock()
	s.ledger = led
	s.mu.Unlock()

	var display capability.Display
	if s.settings.RequireScreenShare {
		var err error
		display, err = s.manager.CaptureDisplay(ctx)
		if err != nil {
			s.logger.Error("display capture denied, session cannot proceed", "error", err)
			led.PreconditionFailed(fmt.Sprintf("display capture denied: %v", err))
			return nil
		}
		s.audit(audit.EventScreenShareStarted, "display capture active")
	}

	fullscreen := s.setupFullscreen()
	camera := s.acquireCamera(ctx)

	profile := calibration.DefaultProfile()
	if s.settings.CalibrationEnabled && camera != nil {
		wizard := calibration.NewWizard(s.settings.Calibration, camera, s.logger)
		wizard.SetTargetCallback(s.callbacks.OnCalibrationTarget)
		profile = wizard.Run(ctx)
	}

	detectors := s.buildDetectors(ctx, camera, fullscreen, display, profile)
	s.mu.Lock()
	s.detectors = detectors
	s.mu.Unlock()
	s.audit(audit.EventMonitoringStarted,
		fmt.Sprintf("monitoring started with %d detectors", len(detectors)))

	for _, det := range detectors {
		if err := det.Start(runCtx); err != nil {
			s.logger.Error("detector failed to start", "detector", det.Name(), "error", err)
			continue
		}
		s.forwarders.Add(1)
		go s.forward(runCtx, det)
	}

	s.logger.Info("session started",
		"detectors", len(detectors),
		"violation_limit", s.settings.ViolationLimit,
	)
	return nil
}

// setupFullscreen requests full-screen mode. Failure to enter is logged but
// never counted; only a later explicit exit is a violation.
func (s *Session) setupFullscreen() capability.Fullscreen {
	if !s.settings.RequireFullscreen {
		return nil
	}

	fs, err := s.manager.Fullscreen()
	if err != nil {
		s.logger.Warn("fullscreen capability unavailable", "error", err)
		return nil
	}
	if err := fs.Enter(); err != nil {
		s.logger.Warn("could not enter fullscreen", "error", err)
	}
	return fs
}

// acquireCamera acquires the camera when any camera-based feature is on.
func (s *Session) acquireCamera(ctx context.Context) capability.Camera {
	if !s.settings.VisionEnabled && !s.settings.CalibrationEnabled {
		return nil
	}

	camera, err := s.manager.Camera(ctx)
	if err != nil {
		s.logger.Warn("camera unavailable, vision checks disabled", "error", err)
		return nil
	}
	return camera
}

// buildDetectors assembles the detector set from available capabilities.
func (s *Session) buildDetectors(ctx context.Context, camera capability.Camera, fullscreen capability.Fullscreen, display capability.Display, profile calibration.Profile) []detector.Detector {
	var detectors []detector.Detector

	if s.settings.VisionEnabled && camera != nil {
		cfg := s.settings.Vision
		cfg.Profile = profile
		detectors = append(detectors, vision.New(cfg, camera, s.comparator, s.id, s.logger))
	}

	if s.settings.AudioEnabled {
		mic, err := s.manager.Microphone(ctx)
		if err != nil {
			s.logger.Warn("microphone unavailable, audio checks disabled", "error", err)
		} else {
			detectors = append(detectors, audio.New(s.settings.Audio, mic, s.logger))
		}
	}

	visibility, err := s.manager.Visibility()
	if err != nil {
		s.logger.Warn("visibility signal unavailable", "error", err)
		visibility = nil
	}
	if fullscreen != nil || visibility != nil || display != nil {
		detectors = append(detectors, environment.New(fullscreen, visibility, display, s.logger))
	}

	return detectors
}

// forward pumps one detector's events into the ledger. Submissions block;
// a counted event is never dropped between a detector and the ledger.
func (s *Session) forward(ctx context.Context, det detector.Detector) {
	defer s.forwarders.Done()

	for v := range det.Events() {
		if err := s.ledger.Submit(ctx, v); err != nil {
			if errors.Is(err, ledger.ErrTerminated) || errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Warn("event submission failed",
				"detector", det.Name(), "type", v.Type, "error", err)
		}
	}
}

// onWarning tallies severities for the credibility score and forwards to
// the host.
func (s *Session) onWarning(w event.Warning) {
	if w.Severity == event.SeverityCritical {
		s.criticalWarnings.Add(1)
	} else {
		s.ordinaryWarnings.Add(1)
	}
	if s.callbacks.OnWarning != nil {
		s.callbacks.OnWarning(w)
	}
}

// onLedgerTerminate runs when the grace timer expires: the session tears
// itself down, then notifies the host exactly once.
func (s *Session) onLedgerTerminate() {
	s.terminated.Store(true)
	s.logger.Warn("session terminated: violation limit exceeded")

	if err := s.Stop(); err != nil {
		s.logger.Error("session teardown failed", "error", err)
	}

	s.terminateOnce.Do(func() {
		if s.callbacks.OnTerminate != nil {
			s.callbacks.OnTerminate()
		}
	})
}

// Stop ends the session: detectors, ledger, capabilities, report. Safe to
// call from multiple goroutines; teardown runs once.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	led := s.ledger
	detectors := s.detectors
	s.mu.Unlock()

	cancel()

	for _, det := range detectors {
		if err := det.Stop(); err != nil {
			s.logger.Warn("detector stop failed", "detector", det.Name(), "error", err)
		}
	}
	s.forwarders.Wait()

	var snap ledger.Snapshot
	if led != nil {
		led.Terminate()
		snap = led.Snapshot()
	}

	s.manager.Release()
	s.audit(audit.EventMonitoringStopped,
		fmt.Sprintf("monitoring stopped with %d violations", snap.Count))

	if s.settings.ReportDir != "" {
		summary := report.Build(
			s.id, s.startedAt, time.Now(),
			snap.History, snap.Count, snap.Limit,
			s.terminated.Load(),
			int(s.criticalWarnings.Load()), int(s.ordinaryWarnings.Load()),
		)
		path, err := report.Write(s.settings.ReportDir, summary)
		if err != nil {
			s.logger.Error("report write failed", "error", err)
		} else {
			s.mu.Lock()
			s.reportPath = path
			s.mu.Unlock()
			s.logger.Info("session report written",
				"path", path, "integrity_status", summary.IntegrityStatus)
		}
	}

	s.logger.Info("session stopped",
		"violations", snap.Count, "terminated", s.terminated.Load())
	return nil
}

// Terminated reports whether the ledger ended the session.
func (s *Session) Terminated() bool {
	return s.terminated.Load()
}

// ReportPath returns the written report location, if any.
func (s *Session) ReportPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportPath
}

// Status returns a live view of the session. Safe against a Start still in
// flight: until the ledger is published the session reports as idle.
func (s *Session) Status() Status {
	s.mu.Lock()
	started := s.started
	startedAt := s.startedAt
	led := s.ledger
	detectors := s.detectors
	s.mu.Unlock()

	if !started || led == nil {
		return Status{ID: s.id, State: "idle"}
	}

	snap := led.Snapshot()

	names := make([]string, 0, len(detectors))
	for _, det := range detectors {
		names = append(names, det.Name())
	}

	return Status{
		ID:             s.id,
		State:          snap.State.String(),
		StartedAt:      startedAt,
		ViolationCount: snap.Count,
		ViolationLimit: snap.Limit,
		Detectors:      names,
	}
}

// audit writes a lifecycle record; failures are logged only.
func (s *Session) audit(eventType, detail string) {
	rec := audit.Record{
		SessionID: s.id,
		EventType: eventType,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if err := s.sink.Append(context.Background(), rec); err != nil {
		s.logger.Error("audit append failed", "event_type", eventType, "error", err)
	}
}
