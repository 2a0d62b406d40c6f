package vision

import (
	"time"

	"proctord/internal/calibration"
	"proctord/internal/capability"
)

// GazeTracker accumulates continuous look-away time against a calibration
// profile. The away timer starts the instant deviation first exceeds a
// threshold and is cleared only by a measured below-threshold sample or an
// explicit reset (no face, multiple faces). Once fired, the tracker re-arms
// after a cooldown while the away timer keeps accumulating.
type GazeTracker struct {
	profile   calibration.Profile
	awayAfter time.Duration
	rearm     time.Duration

	awayStart time.Time
	lastFired time.Time
}

// NewGazeTracker creates a tracker with the given thresholds and timing.
func NewGazeTracker(profile calibration.Profile, awayAfter, rearm time.Duration) *GazeTracker {
	return &GazeTracker{
		profile:   profile,
		awayAfter: awayAfter,
		rearm:     rearm,
	}
}

// Observe feeds one single-face sample. It returns the accumulated away
// duration and true when a gaze_away violation should fire now.
func (g *GazeTracker) Observe(face capability.Face, now time.Time) (time.Duration, bool) {
	if !face.Landmarks {
		// No keypoints this pass; neither accumulate nor clear.
		return 0, false
	}

	center := face.EyeCenter()
	horizontal := abs(center.X - face.NoseTip.X)
	vertical := abs(center.Y - face.NoseTip.Y)

	lookingAway := horizontal > g.profile.HorizontalThreshold ||
		vertical > g.profile.VerticalThreshold

	if !lookingAway {
		g.awayStart = time.Time{}
		return 0, false
	}

	if g.awayStart.IsZero() {
		g.awayStart = now
		return 0, false
	}

	away := now.Sub(g.awayStart)
	if away > g.awayAfter && now.Sub(g.lastFired) > g.rearm {
		g.lastFired = now
		return away, true
	}
	return away, false
}

// Reset clears the away timer. Called when face count leaves one, so a
// no-face or multiple-face condition is not double-counted as gaze_away.
func (g *GazeTracker) Reset() {
	g.awayStart = time.Time{}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
