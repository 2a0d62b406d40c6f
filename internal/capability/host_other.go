//go:build !linux

package capability

import "context"

// CaptureDisplay has no portal backend on this platform.
func (p *HostProvider) CaptureDisplay(ctx context.Context) (Display, error) {
	return nil, ErrNotSupported
}
