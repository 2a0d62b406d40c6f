package calibration

import (
	"context"
	"errors"
	"testing"
	"time"

	"proctord/internal/capability"
)

func faceWithDeviation(h, v float64) capability.Face {
	return capability.Face{
		LeftEye:   capability.Point{X: 100 - 10, Y: 100},
		RightEye:  capability.Point{X: 100 + 10, Y: 100},
		NoseTip:   capability.Point{X: 100 + h, Y: 100 + v},
		Landmarks: true,
	}
}

// ============================================================
// Profile computation
// ============================================================

func TestComputeProfileUsesWorstSampleWithMargin(t *testing.T) {
	samples := []Sample{
		{Horizontal: 20, Vertical: 15},
		{Horizontal: 50, Vertical: 10},
		{Horizontal: 35, Vertical: 40},
	}

	p := ComputeProfile(samples)
	if p.HorizontalThreshold != 60 { // 50 * 1.2
		t.Errorf("horizontal = %g, want 60", p.HorizontalThreshold)
	}
	if p.VerticalThreshold != 48 { // 40 * 1.2
		t.Errorf("vertical = %g, want 48", p.VerticalThreshold)
	}
}

func TestComputeProfileEnforcesFloors(t *testing.T) {
	// A very steady candidate would otherwise get impossibly tight limits.
	p := ComputeProfile([]Sample{{Horizontal: 2, Vertical: 1}})
	if p.HorizontalThreshold != HorizontalFloor {
		t.Errorf("horizontal = %g, want floor %g", p.HorizontalThreshold, HorizontalFloor)
	}
	if p.VerticalThreshold != VerticalFloor {
		t.Errorf("vertical = %g, want floor %g", p.VerticalThreshold, VerticalFloor)
	}
}

func TestComputeProfileEmptyFallsBackToDefault(t *testing.T) {
	if p := ComputeProfile(nil); p != DefaultProfile() {
		t.Errorf("empty samples = %+v, want default profile", p)
	}
}

// ============================================================
// Wizard run
// ============================================================

// queueCamera pops one scripted Detect result per call, repeating the last.
type queueCamera struct {
	results [][]capability.Face
	errs    []error
	calls   int
}

func (c *queueCamera) Detect(ctx context.Context) ([]capability.Face, error) {
	i := c.calls
	c.calls++
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	return c.results[i], err
}

func (c *queueCamera) Embedding(ctx context.Context) ([]float64, error) {
	return nil, errors.New("not used")
}

func (c *queueCamera) Close() error { return nil }

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Countdown = 0
	cfg.RetryInterval = 0
	cfg.MaxAttempts = 3
	return cfg
}

func TestWizardDerivesProfileFromSamples(t *testing.T) {
	cam := &queueCamera{
		results: [][]capability.Face{{faceWithDeviation(40, 30)}},
	}
	w := NewWizard(fastConfig(), cam, nil)

	var targets []string
	w.SetTargetCallback(func(index int, target Target) {
		targets = append(targets, target.Label)
	})

	p := w.Run(context.Background())

	if len(targets) != 5 {
		t.Fatalf("visited %d targets, want 5", len(targets))
	}
	if targets[0] != "center" || targets[4] != "bottom" {
		t.Errorf("target order = %v", targets)
	}
	if p.HorizontalThreshold != 48 { // 40 * 1.2
		t.Errorf("horizontal = %g, want 48", p.HorizontalThreshold)
	}
	if p.VerticalThreshold != 36 { // 30 * 1.2
		t.Errorf("vertical = %g, want 36", p.VerticalThreshold)
	}
}

func TestWizardRetriesBadSamples(t *testing.T) {
	good := faceWithDeviation(10, 10)
	cam := &queueCamera{
		results: [][]capability.Face{
			nil,          // no face: retry
			{good, good}, // two faces: retry
			{good},       // usable
		},
		errs: []error{errors.New("camera warming up")},
	}
	w := NewWizard(fastConfig(), cam, nil)

	p := w.Run(context.Background())
	if p != DefaultProfile() {
		// Deviations of 10 are under both floors.
		t.Errorf("profile = %+v, want floored default", p)
	}
	if cam.calls < 7 {
		t.Errorf("camera calls = %d, want at least 3 retries plus 4 targets", cam.calls)
	}
}

func TestWizardFallsBackWhenTargetExhausted(t *testing.T) {
	cam := &queueCamera{results: [][]capability.Face{nil}}
	w := NewWizard(fastConfig(), cam, nil)

	if p := w.Run(context.Background()); p != DefaultProfile() {
		t.Errorf("profile = %+v, want default after exhausted target", p)
	}
	if cam.calls != 3 {
		t.Errorf("camera calls = %d, want MaxAttempts (3)", cam.calls)
	}
}

func TestWizardCancellationReturnsDefault(t *testing.T) {
	cfg := fastConfig()
	cfg.Countdown = time.Hour
	cam := &queueCamera{results: [][]capability.Face{{faceWithDeviation(0, 0)}}}
	w := NewWizard(cfg, cam, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if p := w.Run(ctx); p != DefaultProfile() {
		t.Errorf("profile = %+v, want default on cancellation", p)
	}
	if cam.calls != 0 {
		t.Errorf("camera sampled %d times after cancellation", cam.calls)
	}
}
