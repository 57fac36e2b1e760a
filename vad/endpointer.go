// Package vad decides when a spoken utterance has ended, from audio energy
// alone. A pure-Go energy detector keeps the pipeline free of model runtimes.
package vad

import (
	"context"
	"time"

	"lumivoice/core"
)

// EventKind labels one endpointer observation.
type EventKind int

const (
	// Speaking: the last sample exceeded the silence threshold.
	Speaking EventKind = iota
	// Silent: below threshold; Remaining reports how much sustained silence
	// is still needed before the utterance is considered finished.
	Silent
	// EndOfUtterance: silence was sustained for the configured duration.
	// Emitted exactly once per Watch; the sequence ends after it.
	EndOfUtterance
)

// Event is one observation in the endpointing sequence.
type Event struct {
	Kind      EventKind
	Remaining time.Duration // only meaningful for Silent
}

// AmplitudeSource supplies instantaneous loudness readings in dBFS.
type AmplitudeSource interface {
	Amplitude() (float64, error)
}

// Config holds the endpointing tunables.
type Config struct {
	// PollInterval is the sampling cadence.
	PollInterval time.Duration
	// ThresholdDb is the loudness above which the user counts as speaking.
	ThresholdDb float64
	// Sustain is how long silence must hold before end-of-utterance.
	Sustain time.Duration
}

// DefaultConfig returns the production cadence: 500 ms polls, −40 dB
// threshold, 2 s sustain.
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		ThresholdDb:  -40.0,
		Sustain:      2 * time.Second,
	}
}

// Endpointer produces a lazy sequence of endpointing events from an
// amplitude source. Each Watch call creates a fresh sequence; sequences are
// never shared across turns.
type Endpointer struct {
	src    AmplitudeSource
	gate   func() bool // true while assistant playback is active
	config Config
	logger *core.Logger
}

// NewEndpointer builds an endpointer over src. gate, when non-nil, pauses
// detection while it reports true, so the detector does not react to the
// assistant's own voice leaking into the microphone. Pausing does not reset
// accumulated silence.
func NewEndpointer(src AmplitudeSource, gate func() bool, config Config, logger *core.Logger) *Endpointer {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.Sustain <= 0 {
		config.Sustain = DefaultConfig().Sustain
	}
	if config.ThresholdDb == 0 {
		config.ThresholdDb = DefaultConfig().ThresholdDb
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Endpointer{
		src:    src,
		gate:   gate,
		config: config,
		logger: logger.With(map[string]interface{}{"component": "vad"}),
	}
}

// Watch starts a new endpointing sequence. The returned channel yields one
// event per poll and is closed after EndOfUtterance or when ctx is
// cancelled. Amplitude read errors end the sequence without an
// end-of-utterance event; consumers treat that as a dead capture.
func (e *Endpointer) Watch(ctx context.Context) <-chan Event {
	out := make(chan Event, 1)
	go e.run(ctx, out)
	return out
}

func (e *Endpointer) run(ctx context.Context, out chan<- Event) {
	defer close(out)

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	// Accumulated silence, advanced one poll interval at a time. Counting
	// intervals instead of wall time is what makes the playback pause a
	// true pause rather than a reset.
	var silentFor time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if e.gate != nil && e.gate() {
			continue
		}

		level, err := e.src.Amplitude()
		if err != nil {
			e.logger.Warn("amplitude read failed, ending watch", "error", err)
			return
		}

		if level > e.config.ThresholdDb {
			silentFor = 0
			if !emit(ctx, out, Event{Kind: Speaking}) {
				return
			}
			continue
		}

		silentFor += e.config.PollInterval
		if silentFor >= e.config.Sustain {
			e.logger.Info("end of utterance", "silent_ms", silentFor.Milliseconds())
			emit(ctx, out, Event{Kind: EndOfUtterance})
			return
		}
		if !emit(ctx, out, Event{Kind: Silent, Remaining: e.config.Sustain - silentFor}) {
			return
		}
	}
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
