//go:build !linux

package capability

import (
	"context"
	"log/slog"
)

// PortalDisplay is only available on Linux desktops with xdg-desktop-portal.
type PortalDisplay struct {
	done chan struct{}
}

// CapturePortalDisplay reports ErrNotSupported on non-Linux platforms.
func CapturePortalDisplay(ctx context.Context, logger *slog.Logger) (*PortalDisplay, error) {
	return nil, ErrNotSupported
}

// Done implements Display.
func (d *PortalDisplay) Done() <-chan struct{} { return d.done }

// Close implements Display.
func (d *PortalDisplay) Close() error { return nil }
