package capability

import (
	"context"
	"log/slog"
	"sync"
)

// Manager owns every capability acquired for one session. Handles are
// memoized on first acquisition and released exactly once, no matter how
// many times Release is called or from how many goroutines.
type Manager struct {
	mu       sync.Mutex
	provider Provider
	logger   *slog.Logger

	camera     Camera
	microphone Microphone
	display    Display
	fullscreen Fullscreen
	visibility Visibility

	released bool
}

// NewManager creates a manager over the given provider.
func NewManager(provider Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider: provider,
		logger:   logger.With("component", "capability_manager"),
	}
}

// Camera acquires (or returns the already-acquired) camera handle.
func (m *Manager) Camera(ctx context.Context) (Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil, ErrReleased
	}
	if m.camera != nil {
		return m.camera, nil
	}

	cam, err := m.provider.Camera(ctx)
	if err != nil {
		return nil, err
	}
	m.camera = cam
	return cam, nil
}

// Microphone acquires (or returns the already-acquired) microphone handle.
func (m *Manager) Microphone(ctx context.Context) (Microphone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil, ErrReleased
	}
	if m.microphone != nil {
		return m.microphone, nil
	}

	mic, err := m.provider.Microphone(ctx)
	if err != nil {
		return nil, err
	}
	m.microphone = mic
	return mic, nil
}

// CaptureDisplay acquires (or returns the already-acquired) display capture.
func (m *Manager) CaptureDisplay(ctx context.Context) (Display, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil, ErrReleased
	}
	if m.display != nil {
		return m.display, nil
	}

	disp, err := m.provider.CaptureDisplay(ctx)
	if err != nil {
		return nil, err
	}
	m.display = disp
	return disp, nil
}

// Fullscreen acquires (or returns the already-acquired) full-screen handle.
func (m *Manager) Fullscreen() (Fullscreen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil, ErrReleased
	}
	if m.fullscreen != nil {
		return m.fullscreen, nil
	}

	fs, err := m.provider.Fullscreen()
	if err != nil {
		return nil, err
	}
	m.fullscreen = fs
	return fs, nil
}

// Visibility acquires (or returns the already-acquired) visibility signal.
func (m *Manager) Visibility() (Visibility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil, ErrReleased
	}
	if m.visibility != nil {
		return m.visibility, nil
	}

	vis, err := m.provider.Visibility()
	if err != nil {
		return nil, err
	}
	m.visibility = vis
	return vis, nil
}

// Release closes every acquired handle exactly once and exits full-screen
// if it is still active. Safe to call multiple times and from concurrent
// cleanup paths.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return
	}
	m.released = true

	if m.fullscreen != nil && m.fullscreen.Active() {
		if err := m.fullscreen.Exit(); err != nil {
			m.logger.Warn("exit fullscreen failed", "error", err)
		}
	}

	if m.camera != nil {
		if err := m.camera.Close(); err != nil {
			m.logger.Warn("close camera failed", "error", err)
		}
		m.camera = nil
	}
	if m.microphone != nil {
		if err := m.microphone.Close(); err != nil {
			m.logger.Warn("close microphone failed", "error", err)
		}
		m.microphone = nil
	}
	if m.display != nil {
		if err := m.display.Close(); err != nil {
			m.logger.Warn("close display capture failed", "error", err)
		}
		m.display = nil
	}
	m.fullscreen = nil
	m.visibility = nil
}

// Released reports whether Release has run.
func (m *Manager) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}
