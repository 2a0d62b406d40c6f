package audio

import (
	"testing"
	"time"

	"proctord/internal/capability"
	"proctord/internal/event"
)

// spectrumWith builds a 48kHz/2048-point frame where the speech bands carry
// speechLevel and everything else carries ambientLevel. Bin width is
// 48000/2048 = 23.4Hz, so the fundamental band (85-255Hz) spans bins 3-10
// and the formant band (500-2000Hz) spans bins 21-85.
func spectrumWith(speechLevel, ambientLevel byte) capability.Spectrum {
	s := capability.Spectrum{
		SampleRate: 48000,
		FFTSize:    2048,
		Bins:       make([]byte, 1024),
	}
	for i := range s.Bins {
		s.Bins[i] = ambientLevel
	}
	width := s.BinWidth()
	for i := int(85 / width); i < int(255/width); i++ {
		s.Bins[i] = speechLevel
	}
	for i := int(500 / width); i < int(2000/width); i++ {
		s.Bins[i] = speechLevel
	}
	return s
}

func newTestDetector() *Detector {
	return New(DefaultConfig(), nil, nil)
}

// ============================================================
// Multiple voices
// ============================================================

func TestErraticSpeechTripsMultipleVoices(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	// Build up voice activity past the trip point with steady loud speech.
	for i := 0; i < 12; i++ {
		if _, ok := d.step(spectrumWith(200, 10), base.Add(time.Duration(i)*16*time.Millisecond)); ok {
			t.Fatalf("fired on steady speech at frame %d", i)
		}
	}

	// A large frame-to-frame swing marks a second speaker.
	v, ok := d.step(spectrumWith(120, 10), base.Add(200*time.Millisecond))
	if !ok {
		t.Fatal("erratic speech after sustained activity did not fire")
	}
	if v.Type != event.TypeMultipleVoices {
		t.Errorf("type = %s, want multiple_voices", v.Type)
	}
	if v.Weight != event.EscalatedWeight {
		t.Errorf("weight = %d, want %d", v.Weight, event.EscalatedWeight)
	}
}

func TestSteadySpeechNeverFires(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	// One person talking: high activity, low variation.
	for i := 0; i < 100; i++ {
		if _, ok := d.step(spectrumWith(200, 10), base.Add(time.Duration(i)*16*time.Millisecond)); ok {
			t.Fatalf("steady single-speaker audio fired at frame %d", i)
		}
	}
}

// ============================================================
// Background noise
// ============================================================

func TestLoudNonSpeechFiresBackgroundNoise(t *testing.T) {
	d := newTestDetector()

	// High energy across the board but quiet speech bands: the activity
	// counter stays at zero, so this is noise rather than voices.
	v, ok := d.step(spectrumWith(20, 220), time.Now())
	if !ok {
		t.Fatal("loud non-speech frame did not fire")
	}
	if v.Type != event.TypeBackgroundNoise {
		t.Errorf("type = %s, want background_noise", v.Type)
	}
	if v.Weight != event.UnitWeight {
		t.Errorf("weight = %d, want %d", v.Weight, event.UnitWeight)
	}
}

func TestQuietRoomNeverFires(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	for i := 0; i < 50; i++ {
		if _, ok := d.step(spectrumWith(10, 10), base.Add(time.Duration(i)*16*time.Millisecond)); ok {
			t.Fatalf("quiet room fired at frame %d", i)
		}
	}
}

// ============================================================
// Cooldown
// ============================================================

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	if _, ok := d.step(spectrumWith(20, 220), base); !ok {
		t.Fatal("expected first background_noise alert")
	}

	// Same loud frame 5s later: inside the 10s cooldown.
	if _, ok := d.step(spectrumWith(20, 220), base.Add(5*time.Second)); ok {
		t.Fatal("fired inside cooldown")
	}

	// Past the cooldown the alert fires again.
	if _, ok := d.step(spectrumWith(20, 220), base.Add(11*time.Second)); !ok {
		t.Fatal("did not fire after cooldown elapsed")
	}
}

// ============================================================
// Degenerate frames
// ============================================================

func TestEmptySpectrumIsIgnored(t *testing.T) {
	d := newTestDetector()

	if _, ok := d.step(capability.Spectrum{}, time.Now()); ok {
		t.Error("empty spectrum produced a violation")
	}
	if _, ok := d.step(capability.Spectrum{SampleRate: 48000, Bins: []byte{1, 2}}, time.Now()); ok {
		t.Error("spectrum without FFT size produced a violation")
	}
}
