//go:build linux

package capability

import "context"

// CaptureDisplay negotiates a screen-cast session through the desktop
// portal.
func (p *HostProvider) CaptureDisplay(ctx context.Context) (Display, error) {
	return CapturePortalDisplay(ctx, p.logger)
}
