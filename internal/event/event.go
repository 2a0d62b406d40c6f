// Package event defines the violation event model shared by the signal
// detectors, the violation ledger, and the audit sink.
//
// Events come in two classes: counted violations that increment the session
// ledger, and advisory observations that surface a warning without touching
// the count. The asymmetry is deliberate: a missing face is a prompt to the
// candidate, not evidence of malpractice.
package event

import "time"

// Type identifies the kind of integrity observation.
type Type string

// Violation event types.
const (
	TypeTabSwitch        Type = "tab_switch"
	TypeFullscreenExit   Type = "fullscreen_exit"
	TypeMultipleFaces    Type = "multiple_faces"
	TypeNoFace           Type = "no_face"
	TypeGazeAway         Type = "gaze_away"
	TypeBackgroundNoise  Type = "background_noise"
	TypeMultipleVoices   Type = "multiple_voices"
	TypeIdentityMismatch Type = "identity_mismatch"
	TypeScreenShareEnded Type = "screen_share_ended"
)

// Event weights. "Wrong person" and "extra person" escalate identically;
// EscalatedWeight is the single constant both share.
const (
	UnitWeight      = 1
	EscalatedWeight = 2
)

// Class separates counted violations from advisory observations.
type Class int

const (
	// ClassCounted events increment the violation ledger.
	ClassCounted Class = iota
	// ClassAdvisory events warn without incrementing.
	ClassAdvisory
)

// Severity of a ledger outcome.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation is one confirmed, thresholded integrity observation.
// Immutable once created; produced by exactly one detector.
type Violation struct {
	Type       Type
	Weight     int
	Detail     string
	OccurredAt time.Time
}

// Weight returns the ledger increment for this event type.
func (t Type) Weight() int {
	switch t {
	case TypeMultipleFaces, TypeMultipleVoices, TypeIdentityMismatch:
		return EscalatedWeight
	case TypeNoFace:
		return 0
	default:
		return UnitWeight
	}
}

// Class returns whether this event type counts against the ledger.
func (t Type) Class() Class {
	if t == TypeNoFace {
		return ClassAdvisory
	}
	return ClassCounted
}

// New builds a Violation with the canonical weight for its type.
func New(t Type, detail string, occurredAt time.Time) Violation {
	return Violation{
		Type:       t,
		Weight:     t.Weight(),
		Detail:     detail,
		OccurredAt: occurredAt,
	}
}

// Warning is what the ledger pushes to the host UI layer. Advisory events
// produce warnings with the current (unchanged) count.
type Warning struct {
	Message        string
	Severity       Severity
	ViolationCount int
	ViolationType  Type
}
