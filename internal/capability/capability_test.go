package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// ============================================================
// Geometry helpers
// ============================================================

func TestEyeCenter(t *testing.T) {
	face := Face{
		LeftEye:  Point{X: 100, Y: 50},
		RightEye: Point{X: 140, Y: 54},
	}
	center := face.EyeCenter()
	if center.X != 120 || center.Y != 52 {
		t.Errorf("EyeCenter() = %+v, want {120 52}", center)
	}
}

func TestSpectrumBinWidth(t *testing.T) {
	s := Spectrum{SampleRate: 48000, FFTSize: 2048}
	if got := s.BinWidth(); got != 48000.0/2048.0 {
		t.Errorf("BinWidth() = %g", got)
	}

	if got := (Spectrum{}).BinWidth(); got != 0 {
		t.Errorf("zero spectrum BinWidth() = %g, want 0", got)
	}
}

// ============================================================
// Manager
// ============================================================

type countingCamera struct {
	mu     sync.Mutex
	closes int
}

func (c *countingCamera) Detect(ctx context.Context) ([]Face, error) { return nil, nil }
func (c *countingCamera) Embedding(ctx context.Context) ([]float64, error) {
	return nil, errors.New("no face")
}
func (c *countingCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type countingProvider struct {
	camera   countingCamera
	acquires int
}

func (p *countingProvider) Camera(ctx context.Context) (Camera, error) {
	p.acquires++
	return &p.camera, nil
}

func (p *countingProvider) Microphone(ctx context.Context) (Microphone, error) {
	return nil, ErrNotSupported
}

func (p *countingProvider) CaptureDisplay(ctx context.Context) (Display, error) {
	return nil, ErrNotSupported
}

func (p *countingProvider) Fullscreen() (Fullscreen, error) {
	return nil, ErrNotSupported
}

func (p *countingProvider) Visibility() (Visibility, error) {
	return nil, ErrNotSupported
}

func TestManagerMemoizesAcquisition(t *testing.T) {
	provider := &countingProvider{}
	m := NewManager(provider, nil)

	for i := 0; i < 3; i++ {
		if _, err := m.Camera(context.Background()); err != nil {
			t.Fatalf("Camera() error: %v", err)
		}
	}
	if provider.acquires != 1 {
		t.Errorf("provider acquisitions = %d, want 1", provider.acquires)
	}
}

func TestManagerReleasesExactlyOnce(t *testing.T) {
	provider := &countingProvider{}
	m := NewManager(provider, nil)

	if _, err := m.Camera(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Concurrent release from multiple cleanup paths.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Release()
		}()
	}
	wg.Wait()

	if provider.camera.closes != 1 {
		t.Errorf("camera closes = %d, want 1", provider.camera.closes)
	}
	if !m.Released() {
		t.Error("Released() = false after Release")
	}
}

func TestManagerRejectsUseAfterRelease(t *testing.T) {
	m := NewManager(&countingProvider{}, nil)
	m.Release()

	if _, err := m.Camera(context.Background()); !errors.Is(err, ErrReleased) {
		t.Errorf("Camera() after release = %v, want ErrReleased", err)
	}
	if _, err := m.CaptureDisplay(context.Background()); !errors.Is(err, ErrReleased) {
		t.Errorf("CaptureDisplay() after release = %v, want ErrReleased", err)
	}
}

func TestManagerPropagatesAcquisitionErrors(t *testing.T) {
	m := NewManager(&countingProvider{}, nil)

	if _, err := m.CaptureDisplay(context.Background()); !errors.Is(err, ErrNotSupported) {
		t.Errorf("CaptureDisplay() = %v, want ErrNotSupported", err)
	}
}
