package capability

import (
	"context"
	"log/slog"
)

// HostProvider is the capability provider for the standalone daemon.
//
// Display capture comes from the desktop portal where available. Camera
// inference, microphone spectra, full-screen control, and tab visibility
// belong to the host UI shell embedding the engine; the standalone daemon
// reports them unsupported and the session degrades to the capabilities it
// has.
type HostProvider struct {
	logger *slog.Logger
}

// NewHostProvider creates a provider backed by the local desktop.
func NewHostProvider(logger *slog.Logger) *HostProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostProvider{logger: logger}
}

// Camera is not available to the standalone daemon.
func (p *HostProvider) Camera(ctx context.Context) (Camera, error) {
	return nil, ErrNotSupported
}

// Microphone is not available to the standalone daemon.
func (p *HostProvider) Microphone(ctx context.Context) (Microphone, error) {
	return nil, ErrNotSupported
}

// Fullscreen is controlled by the host UI shell, not the daemon.
func (p *HostProvider) Fullscreen() (Fullscreen, error) {
	return nil, ErrNotSupported
}

// Visibility is observed by the host UI shell, not the daemon.
func (p *HostProvider) Visibility() (Visibility, error) {
	return nil, ErrNotSupported
}
