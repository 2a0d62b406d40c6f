// Package audio implements the ambient audio activity detector.
//
// Each frame is a frequency-domain spectrum from the microphone capability.
// The detector measures energy in two speech bands (the voice fundamental
// and the first formant range), tracks a voice-activity counter across
// frames, and distinguishes two conditions: erratic sustained speech energy
// (multiple voices) and loud non-speech energy (background noise).
package audio

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"proctord/internal/capability"
	"proctord/internal/detector"
	"proctord/internal/event"
)

// Config holds the audio analysis thresholds. All values mirror the
// detection design constants; none is personalized by calibration.
type Config struct {
	// Interval between spectrum frames (~60Hz).
	Interval time.Duration

	// Speech frequency bands in Hz.
	FundamentalLowHz  float64
	FundamentalHighHz float64
	FormantLowHz      float64
	FormantHighHz     float64

	// SpeechThreshold is the speech-band energy (0-255) above which a
	// frame counts as voice-active.
	SpeechThreshold float64

	// AmbientThreshold is the overall average energy above which a
	// non-speech frame counts as background noise.
	AmbientThreshold float64

	// VoiceActivityTrip fires multiple_voices when the activity counter
	// exceeds it; VoiceActivityQuiet is the ceiling under which loud
	// frames are treated as non-speech noise.
	VoiceActivityTrip  int
	VoiceActivityQuiet int

	// VariationThreshold is the frame-to-frame speech energy delta that
	// marks erratic (multi-speaker) patterns.
	VariationThreshold float64

	// Cooldown suppresses repeat audio violations.
	Cooldown time.Duration
}

// DefaultConfig returns the standard audio thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:           16 * time.Millisecond,
		FundamentalLowHz:   85,
		FundamentalHighHz:  255,
		FormantLowHz:       500,
		FormantHighHz:      2000,
		SpeechThreshold:    80,
		AmbientThreshold:   150,
		VoiceActivityTrip:  10,
		VoiceActivityQuiet: 5,
		VariationThreshold: 30,
		Cooldown:           10 * time.Second,
	}
}

// Detector is the ambient audio detector.
type Detector struct {
	*detector.Poller

	config     Config
	microphone capability.Microphone
	now        func() time.Time

	// Analysis state across frames.
	voiceActivity    int
	prevSpeechEnergy float64
	lastAlert        time.Time
}

// New creates an audio detector.
func New(cfg Config, microphone capability.Microphone, logger *slog.Logger) *Detector {
	d := &Detector{
		config:     cfg,
		microphone: microphone,
		now:        time.Now,
	}
	d.Poller = detector.NewPoller("audio_detector", cfg.Interval, d.pass, logger)
	return d
}

// pass grabs one spectrum frame and feeds it through the analyzer.
func (d *Detector) pass(ctx context.Context) {
	spectrum, err := d.microphone.Spectrum(ctx)
	if err != nil {
		d.Logger().Debug("spectrum grab failed", "error", err)
		return
	}

	if v, ok := d.step(spectrum, d.now()); ok {
		d.Emit(ctx, v)
	}
}

// step processes one frame and decides whether a violation fires. Split
// from pass so the analysis is testable with synthetic spectra.
func (d *Detector) step(s capability.Spectrum, now time.Time) (event.Violation, bool) {
	if len(s.Bins) == 0 || s.BinWidth() <= 0 {
		return event.Violation{}, false
	}

	fundamental := bandEnergy(s, d.config.FundamentalLowHz, d.config.FundamentalHighHz)
	formant := bandEnergy(s, d.config.FormantLowHz, d.config.FormantHighHz)
	speechEnergy := (fundamental + formant) / 2

	if speechEnergy > d.config.SpeechThreshold {
		d.voiceActivity++
	} else if d.voiceActivity > 0 {
		d.voiceActivity--
	}

	variation := speechEnergy - d.prevSpeechEnergy
	if variation < 0 {
		variation = -variation
	}
	d.prevSpeechEnergy = speechEnergy

	if !d.lastAlert.IsZero() && now.Sub(d.lastAlert) < d.config.Cooldown {
		return event.Violation{}, false
	}

	// Sustained voice activity with erratic energy suggests a second
	// speaker; the counter resets after flagging.
	if d.voiceActivity > d.config.VoiceActivityTrip && variation > d.config.VariationThreshold {
		d.lastAlert = now
		d.voiceActivity = 0
		return event.New(event.TypeMultipleVoices,
			fmt.Sprintf("multiple voices detected (speech energy: %.0f, variation: %.0f)",
				speechEnergy, variation), now), true
	}

	if avg := average(s); avg > d.config.AmbientThreshold && d.voiceActivity < d.config.VoiceActivityQuiet {
		d.lastAlert = now
		return event.New(event.TypeBackgroundNoise,
			fmt.Sprintf("unusual audio detected (level: %.0f)", avg), now), true
	}

	return event.Violation{}, false
}

// bandEnergy averages bin energy over [loHz, hiHz).
func bandEnergy(s capability.Spectrum, loHz, hiHz float64) float64 {
	width := s.BinWidth()
	lo := int(loHz / width)
	hi := int(hiHz / width)
	if hi > len(s.Bins) {
		hi = len(s.Bins)
	}
	if lo >= hi {
		return 0
	}

	var sum float64
	for i := lo; i < hi; i++ {
		sum += float64(s.Bins[i])
	}
	return sum / float64(hi-lo)
}

// average returns the mean energy across all bins.
func average(s capability.Spectrum) float64 {
	var sum float64
	for _, b := range s.Bins {
		sum += float64(b)
	}
	return sum / float64(len(s.Bins))
}
