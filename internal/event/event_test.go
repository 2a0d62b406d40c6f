package event

import (
	"testing"
	"time"
)

// ============================================================
// Weights
// ============================================================

func TestTypeWeights(t *testing.T) {
	cases := []struct {
		typ  Type
		want int
	}{
		{TypeTabSwitch, UnitWeight},
		{TypeFullscreenExit, UnitWeight},
		{TypeGazeAway, UnitWeight},
		{TypeBackgroundNoise, UnitWeight},
		{TypeScreenShareEnded, UnitWeight},
		{TypeMultipleFaces, EscalatedWeight},
		{TypeMultipleVoices, EscalatedWeight},
		{TypeIdentityMismatch, EscalatedWeight},
		{TypeNoFace, 0},
	}

	for _, tc := range cases {
		if got := tc.typ.Weight(); got != tc.want {
			t.Errorf("%s.Weight() = %d, want %d", tc.typ, got, tc.want)
		}
	}
}

// ============================================================
// Classes
// ============================================================

func TestOnlyNoFaceIsAdvisory(t *testing.T) {
	all := []Type{
		TypeTabSwitch, TypeFullscreenExit, TypeMultipleFaces, TypeNoFace,
		TypeGazeAway, TypeBackgroundNoise, TypeMultipleVoices,
		TypeIdentityMismatch, TypeScreenShareEnded,
	}

	for _, typ := range all {
		want := ClassCounted
		if typ == TypeNoFace {
			want = ClassAdvisory
		}
		if got := typ.Class(); got != want {
			t.Errorf("%s.Class() = %v, want %v", typ, got, want)
		}
	}
}

// ============================================================
// Construction
// ============================================================

func TestNewAppliesCanonicalWeight(t *testing.T) {
	now := time.Now()
	v := New(TypeMultipleFaces, "3 faces detected in frame", now)

	if v.Weight != EscalatedWeight {
		t.Errorf("weight = %d, want %d", v.Weight, EscalatedWeight)
	}
	if v.Type != TypeMultipleFaces {
		t.Errorf("type = %s", v.Type)
	}
	if !v.OccurredAt.Equal(now) {
		t.Errorf("occurredAt = %v, want %v", v.OccurredAt, now)
	}
}
