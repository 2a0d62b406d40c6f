// Package capability defines the contracts the monitoring engine needs from
// the host environment: camera inference, microphone spectra, display
// capture, full-screen control, and tab visibility.
//
// The engine never owns these resources. The session orchestrator acquires
// them through a Provider, lends them to detectors for the duration of a
// polling pass, and releases each exactly once via the Manager.
package capability

import (
	"context"
	"errors"
)

var (
	// ErrNotSupported is returned when a capability has no implementation
	// on this platform.
	ErrNotSupported = errors.New("capability: not supported on this platform")

	// ErrDenied is returned when the host refused access to a capability.
	ErrDenied = errors.New("capability: access denied")

	// ErrReleased is returned when a handle is used after release.
	ErrReleased = errors.New("capability: handle released")
)

// Point is a 2D landmark coordinate in frame pixels.
type Point struct {
	X float64
	Y float64
}

// Face is one detected face with the landmarks the engine uses.
// Landmarks is false when the provider could not resolve keypoints for
// this face; such faces still count toward presence.
type Face struct {
	LeftEye   Point
	RightEye  Point
	NoseTip   Point
	Landmarks bool
}

// EyeCenter returns the midpoint between the two eye landmarks.
func (f Face) EyeCenter() Point {
	return Point{
		X: (f.LeftEye.X + f.RightEye.X) / 2,
		Y: (f.LeftEye.Y + f.RightEye.Y) / 2,
	}
}

// Camera wraps the camera stream plus the host's face inference models.
// One Detect call is one inference pass over the current frame; no frame
// data is retained between calls.
type Camera interface {
	// Detect runs face detection on the current frame.
	Detect(ctx context.Context) ([]Face, error)

	// Embedding extracts a face embedding from the current frame for
	// identity verification. Returns an error when no single face is
	// resolvable.
	Embedding(ctx context.Context) ([]float64, error)

	// Close releases the camera stream.
	Close() error
}

// Spectrum is one frequency-domain audio frame. Bins hold per-frequency
// energy on a 0-255 scale, matching the host analyser contract.
type Spectrum struct {
	SampleRate float64
	FFTSize    int
	Bins       []byte
}

// BinWidth returns the frequency width of one bin in Hz.
func (s Spectrum) BinWidth() float64 {
	if s.FFTSize == 0 {
		return 0
	}
	return s.SampleRate / float64(s.FFTSize)
}

// Microphone provides frequency-domain frames from the audio capability.
type Microphone interface {
	// Spectrum grabs the current frequency-domain frame.
	Spectrum(ctx context.Context) (Spectrum, error)

	// Close releases the microphone stream.
	Close() error
}

// Display is an active display-capture handle.
type Display interface {
	// Done is closed when the capture ends for any reason, including the
	// user stopping the share from host UI.
	Done() <-chan struct{}

	// Close stops the capture.
	Close() error
}

// Fullscreen controls and observes full-screen state.
type Fullscreen interface {
	// Enter requests full-screen mode.
	Enter() error

	// Exit leaves full-screen mode.
	Exit() error

	// Active reports whether full-screen is currently engaged.
	Active() bool

	// Changes delivers the new state on every transition.
	Changes() <-chan bool
}

// Visibility reports tab/window visibility transitions; false means the
// session surface was hidden (tab switch, minimize).
type Visibility interface {
	Changes() <-chan bool
}

// Provider supplies capabilities from the host environment.
type Provider interface {
	Camera(ctx context.Context) (Camera, error)
	Microphone(ctx context.Context) (Microphone, error)
	CaptureDisplay(ctx context.Context) (Display, error)
	Fullscreen() (Fullscreen, error)
	Visibility() (Visibility, error)
}
