// Package vision implements the camera-facing detectors: face presence and
// count, gaze direction, and identity verification scheduling.
//
// All three share one inference pass per poll. Face count is evaluated every
// pass; gaze only when exactly one face is present; identity at most once
// per identity interval, and also only when exactly one face is present. The
// identity verdict itself comes from an external comparator.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"proctord/internal/calibration"
	"proctord/internal/capability"
	"proctord/internal/detector"
	"proctord/internal/event"
	"proctord/internal/identity"
)

// Config controls vision detector timing.
type Config struct {
	// Interval between face-count passes.
	Interval time.Duration

	// GazeAwayAfter is the continuous look-away duration that triggers a
	// gaze_away violation.
	GazeAwayAfter time.Duration

	// GazeRearm is the cooldown before gaze_away can fire again.
	GazeRearm time.Duration

	// IdentityInterval is the minimum spacing between identity checks.
	IdentityInterval time.Duration

	// Profile holds the calibrated gaze thresholds.
	Profile calibration.Profile
}

// DefaultConfig returns the standard vision timing.
func DefaultConfig() Config {
	return Config{
		Interval:         3 * time.Second,
		GazeAwayAfter:    5 * time.Second,
		GazeRearm:        3 * time.Second,
		IdentityInterval: 10 * time.Second,
		Profile:          calibration.DefaultProfile(),
	}
}

// Detector is the camera-facing detector.
type Detector struct {
	*detector.Poller

	config     Config
	camera     capability.Camera
	comparator identity.Comparator
	sessionID  string

	gaze         *GazeTracker
	lastIdentity time.Time
	now          func() time.Time
}

// New creates a vision detector. comparator may be nil, which disables
// identity checks.
func New(cfg Config, camera capability.Camera, comparator identity.Comparator, sessionID string, logger *slog.Logger) *Detector {
	d := &Detector{
		config:     cfg,
		camera:     camera,
		comparator: comparator,
		sessionID:  sessionID,
		gaze:       NewGazeTracker(cfg.Profile, cfg.GazeAwayAfter, cfg.GazeRearm),
		now:        time.Now,
	}
	d.Poller = detector.NewPoller("vision_detector", cfg.Interval, d.pass, logger)
	return d
}

// pass runs one inference pass: face count, then gaze and identity when
// exactly one face is present. Inference errors are logged and the cycle is
// skipped; they never produce events.
func (d *Detector) pass(ctx context.Context) {
	faces, err := d.camera.Detect(ctx)
	if err != nil {
		d.Logger().Debug("face detection failed", "error", err)
		return
	}

	now := d.now()
	switch {
	case len(faces) == 0:
		d.gaze.Reset()
		d.Emit(ctx, event.New(event.TypeNoFace,
			"no face detected in camera feed", now))

	case len(faces) > 1:
		d.gaze.Reset()
		d.Emit(ctx, event.New(event.TypeMultipleFaces,
			fmt.Sprintf("%d faces detected in frame", len(faces)), now))

	default:
		if away, fire := d.gaze.Observe(faces[0], now); fire {
			d.Emit(ctx, event.New(event.TypeGazeAway,
				fmt.Sprintf("candidate looking away from screen for %ds",
					int(away.Round(time.Second).Seconds())), now))
		}
		d.maybeVerifyIdentity(ctx, now)
	}
}

// maybeVerifyIdentity runs an identity check when one is due. The check
// shares the pass's suspension point: a slow comparator delays only this
// detector's next poll.
func (d *Detector) maybeVerifyIdentity(ctx context.Context, now time.Time) {
	if d.comparator == nil {
		return
	}
	if !d.lastIdentity.IsZero() && now.Sub(d.lastIdentity) < d.config.IdentityInterval {
		return
	}
	d.lastIdentity = now

	embedding, err := d.camera.Embedding(ctx)
	if err != nil {
		d.Logger().Debug("no face embedding extracted for identity check", "error", err)
		return
	}

	result, err := d.comparator.Compare(ctx, embedding, d.sessionID)
	if err != nil {
		if errors.Is(err, identity.ErrNoReference) {
			d.Logger().Warn("identity check skipped", "error", err)
		} else {
			d.Logger().Debug("identity comparison failed", "error", err)
		}
		return
	}

	if result.IsMatch {
		d.Logger().Debug("identity verified", "distance", result.Distance)
		return
	}

	d.Emit(ctx, event.New(event.TypeIdentityMismatch,
		fmt.Sprintf("face does not match registered identity (distance: %.3f)",
			result.Distance), now))
}
