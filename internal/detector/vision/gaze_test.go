package vision

import (
	"testing"
	"time"

	"proctord/internal/calibration"
	"proctord/internal/capability"
)

func centeredFace() capability.Face {
	return capability.Face{
		LeftEye:   capability.Point{X: 90, Y: 100},
		RightEye:  capability.Point{X: 110, Y: 100},
		NoseTip:   capability.Point{X: 100, Y: 110},
		Landmarks: true,
	}
}

// awayFace deviates horizontally well past the default threshold.
func awayFace() capability.Face {
	f := centeredFace()
	f.NoseTip.X += 60
	return f
}

// ============================================================
// Away timing
// ============================================================

func TestGazeFiresAfterSustainedDeviation(t *testing.T) {
	g := NewGazeTracker(calibration.DefaultProfile(), 5*time.Second, 3*time.Second)
	base := time.Now()

	// First away sample starts the timer; nothing fires.
	if _, fire := g.Observe(awayFace(), base); fire {
		t.Fatal("fired on first away sample")
	}

	// Still under the threshold at 4s.
	if _, fire := g.Observe(awayFace(), base.Add(4*time.Second)); fire {
		t.Fatal("fired before away threshold")
	}

	// Past 5s of continuous deviation it fires.
	away, fire := g.Observe(awayFace(), base.Add(6*time.Second))
	if !fire {
		t.Fatal("did not fire after sustained deviation")
	}
	if away != 6*time.Second {
		t.Errorf("away = %v, want 6s", away)
	}
}

func TestGazeReturnToCenterClearsTimer(t *testing.T) {
	g := NewGazeTracker(calibration.DefaultProfile(), 5*time.Second, 3*time.Second)
	base := time.Now()

	g.Observe(awayFace(), base)
	g.Observe(awayFace(), base.Add(4*time.Second))

	// A centered sample clears the accumulated time.
	if _, fire := g.Observe(centeredFace(), base.Add(5*time.Second)); fire {
		t.Fatal("fired on centered sample")
	}

	// Deviation must be sustained all over again.
	g.Observe(awayFace(), base.Add(6*time.Second))
	if _, fire := g.Observe(awayFace(), base.Add(8*time.Second)); fire {
		t.Fatal("fired without a fresh sustained deviation")
	}
}

func TestGazeRearmSuppressesRepeatFiring(t *testing.T) {
	g := NewGazeTracker(calibration.DefaultProfile(), 5*time.Second, 3*time.Second)
	base := time.Now()

	g.Observe(awayFace(), base)
	if _, fire := g.Observe(awayFace(), base.Add(6*time.Second)); !fire {
		t.Fatal("expected first fire")
	}

	// Still away 2s later: inside the re-arm window.
	if _, fire := g.Observe(awayFace(), base.Add(8*time.Second)); fire {
		t.Fatal("fired inside re-arm window")
	}

	// 4s after firing the tracker has re-armed; away time kept accumulating.
	away, fire := g.Observe(awayFace(), base.Add(10*time.Second))
	if !fire {
		t.Fatal("did not re-fire after re-arm window")
	}
	if away != 10*time.Second {
		t.Errorf("away = %v, want 10s (timer keeps accumulating)", away)
	}
}

// ============================================================
// Sample quality
// ============================================================

func TestGazeIgnoresSamplesWithoutLandmarks(t *testing.T) {
	g := NewGazeTracker(calibration.DefaultProfile(), 5*time.Second, 3*time.Second)
	base := time.Now()

	g.Observe(awayFace(), base)

	blurry := awayFace()
	blurry.Landmarks = false
	if away, fire := g.Observe(blurry, base.Add(6*time.Second)); fire || away != 0 {
		t.Errorf("landmark-less sample: away=%v fire=%v, want 0/false", away, fire)
	}

	// The timer survives the landmark-less pass.
	if _, fire := g.Observe(awayFace(), base.Add(7*time.Second)); !fire {
		t.Error("away timer was lost across a landmark-less sample")
	}
}

func TestGazeResetClearsTimer(t *testing.T) {
	g := NewGazeTracker(calibration.DefaultProfile(), 5*time.Second, 3*time.Second)
	base := time.Now()

	g.Observe(awayFace(), base)
	g.Reset()

	if _, fire := g.Observe(awayFace(), base.Add(6*time.Second)); fire {
		t.Error("fired despite Reset clearing the timer")
	}
}

func TestGazeUsesCalibratedThresholds(t *testing.T) {
	// A generous profile tolerates the deviation the default would flag.
	wide := calibration.Profile{HorizontalThreshold: 100, VerticalThreshold: 100}
	g := NewGazeTracker(wide, 5*time.Second, 3*time.Second)
	base := time.Now()

	g.Observe(awayFace(), base)
	if _, fire := g.Observe(awayFace(), base.Add(10*time.Second)); fire {
		t.Error("fired under a profile that tolerates this deviation")
	}
}
