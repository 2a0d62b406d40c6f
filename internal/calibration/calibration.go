// Package calibration implements the one-shot gaze calibration wizard.
//
// The wizard walks the candidate through five fixation targets, samples one
// face-keypoint detection per target, and derives personalized gaze
// thresholds from the worst observed deviation. A session that skips (or
// fails) calibration always receives the default profile; the wizard never
// leaves the caller without a usable profile.
package calibration

import (
	"context"
	"log/slog"
	"time"

	"proctord/internal/capability"
)

// Threshold floors. A calibrated threshold is never tighter than these.
const (
	HorizontalFloor = 30.0
	VerticalFloor   = 25.0

	// thresholdMargin is the buffer applied over the worst fixation sample.
	thresholdMargin = 1.2
)

// Profile holds the personalized gaze deviation thresholds.
// Immutable once produced; consumed by the gaze detector only.
type Profile struct {
	HorizontalThreshold float64 `json:"horizontal_threshold"`
	VerticalThreshold   float64 `json:"vertical_threshold"`
}

// DefaultProfile returns the floor thresholds used when calibration is
// skipped or fails.
func DefaultProfile() Profile {
	return Profile{
		HorizontalThreshold: HorizontalFloor,
		VerticalThreshold:   VerticalFloor,
	}
}

// Target is a fixation point expressed in screen percentages.
type Target struct {
	X     float64
	Y     float64
	Label string
}

// DefaultTargets returns the fixed fixation sequence.
func DefaultTargets() []Target {
	return []Target{
		{X: 50, Y: 50, Label: "center"},
		{X: 20, Y: 50, Label: "left"},
		{X: 80, Y: 50, Label: "right"},
		{X: 50, Y: 30, Label: "top"},
		{X: 50, Y: 70, Label: "bottom"},
	}
}

// Sample is one measured gaze deviation at a fixation target.
type Sample struct {
	Horizontal float64
	Vertical   float64
}

// Config controls wizard timing.
type Config struct {
	// Targets is the fixation sequence. Defaults to DefaultTargets.
	Targets []Target

	// Countdown is the fixation delay before sampling each target.
	Countdown time.Duration

	// RetryInterval is the delay between failed sample attempts.
	RetryInterval time.Duration

	// MaxAttempts bounds sample attempts per target. When a target
	// exhausts its attempts the wizard falls back to the default profile.
	MaxAttempts int
}

// DefaultConfig returns the standard wizard timing.
func DefaultConfig() Config {
	return Config{
		Targets:       DefaultTargets(),
		Countdown:     3 * time.Second,
		RetryInterval: time.Second,
		MaxAttempts:   10,
	}
}

// Wizard runs the calibration sequence against a live camera.
type Wizard struct {
	config Config
	camera capability.Camera
	logger *slog.Logger

	// onTarget, when set, is invoked before each fixation countdown so the
	// host UI can display the target.
	onTarget func(index int, target Target)
}

// NewWizard creates a calibration wizard.
func NewWizard(cfg Config, camera capability.Camera, logger *slog.Logger) *Wizard {
	if len(cfg.Targets) == 0 {
		cfg.Targets = DefaultTargets()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Wizard{
		config: cfg,
		camera: camera,
		logger: logger.With("component", "calibration"),
	}
}

// SetTargetCallback registers a progress callback for the host UI.
func (w *Wizard) SetTargetCallback(fn func(index int, target Target)) {
	w.onTarget = fn
}

// Run executes the full fixation sequence and returns the derived profile.
// Sample failures (no face, multiple faces, detector errors) are retried
// silently; if a target cannot be sampled within MaxAttempts, or the
// context is cancelled, the default profile is returned instead. Run never
// returns an unusable profile.
func (w *Wizard) Run(ctx context.Context) Profile {
	samples := make([]Sample, 0, len(w.config.Targets))

	for i, target := range w.config.Targets {
		if w.onTarget != nil {
			w.onTarget(i, target)
		}

		if !sleepCtx(ctx, w.config.Countdown) {
			w.logger.Info("calibration cancelled, using default profile")
			return DefaultProfile()
		}

		sample, ok := w.sampleTarget(ctx, target)
		if !ok {
			w.logger.Warn("calibration target failed, using default profile",
				"target", target.Label,
			)
			return DefaultProfile()
		}
		samples = append(samples, sample)
	}

	profile := ComputeProfile(samples)
	w.logger.Info("calibration complete",
		"horizontal_threshold", profile.HorizontalThreshold,
		"vertical_threshold", profile.VerticalThreshold,
	)
	return profile
}

// sampleTarget retries until it measures exactly one face with landmarks.
func (w *Wizard) sampleTarget(ctx context.Context, target Target) (Sample, bool) {
	for attempt := 0; attempt < w.config.MaxAttempts; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, w.config.RetryInterval) {
			return Sample{}, false
		}

		faces, err := w.camera.Detect(ctx)
		if err != nil {
			w.logger.Debug("calibration sample error",
				"target", target.Label, "error", err)
			continue
		}
		if len(faces) != 1 || !faces[0].Landmarks {
			continue
		}

		face := faces[0]
		center := face.EyeCenter()
		return Sample{
			Horizontal: abs(center.X - face.NoseTip.X),
			Vertical:   abs(center.Y - face.NoseTip.Y),
		}, true
	}
	return Sample{}, false
}

// ComputeProfile derives thresholds from fixation samples: the worst
// deviation per axis with a 20% margin, floored at the defaults.
func ComputeProfile(samples []Sample) Profile {
	if len(samples) == 0 {
		return DefaultProfile()
	}

	var maxH, maxV float64
	for _, s := range samples {
		if s.Horizontal > maxH {
			maxH = s.Horizontal
		}
		if s.Vertical > maxV {
			maxV = s.Vertical
		}
	}

	return Profile{
		HorizontalThreshold: max(maxH*thresholdMargin, HorizontalFloor),
		VerticalThreshold:   max(maxV*thresholdMargin, VerticalFloor),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
