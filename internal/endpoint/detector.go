// Package endpoint decides when the user has finished speaking from frame loudness.
package endpoint

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// Signal is the detector verdict for one observation.
type Signal int

const (
	SignalNone Signal = iota
	// SignalSpeechEnded fires after speech followed by sustained silence.
	SignalSpeechEnded
	// SignalMaxDuration is the safety stop regardless of loudness.
	SignalMaxDuration
)

func (s Signal) String() string {
	switch s {
	case SignalSpeechEnded:
		return "speech_ended"
	case SignalMaxDuration:
		return "max_duration"
	default:
		return "none"
	}
}

// Config holds the fixed detection constants.
type Config struct {
	Threshold       float64
	MinDuration     time.Duration
	SilenceDuration time.Duration
	MaxDuration     time.Duration
	SampleInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:       0.02,
		MinDuration:     time.Second,
		SilenceDuration: 1500 * time.Millisecond,
		MaxDuration:     15 * time.Second,
		SampleInterval:  50 * time.Millisecond,
	}
}

// Detector tracks speech and trailing silence for one recording. Not safe for concurrent use.
type Detector struct {
	cfg          Config
	startedAt    time.Time
	speechSeen   bool
	silenceSince time.Time
	fired        bool
}

func NewDetector(cfg Config, startedAt time.Time) *Detector {
	return &Detector{cfg: cfg, startedAt: startedAt}
}

// Observe feeds one loudness sample. A non-none signal is returned at most once.
func (d *Detector) Observe(level float64, now time.Time) Signal {
	if d.fired {
		return SignalNone
	}

	elapsed := now.Sub(d.startedAt)
	if d.cfg.MaxDuration > 0 && elapsed >= d.cfg.MaxDuration {
		d.fired = true
		return SignalMaxDuration
	}

	if level >= d.cfg.Threshold {
		d.speechSeen = true
		d.silenceSince = time.Time{}
		return SignalNone
	}
	if !d.speechSeen {
		return SignalNone
	}

	if d.silenceSince.IsZero() {
		d.silenceSince = now
	}
	if elapsed < d.cfg.MinDuration {
		return SignalNone
	}
	if now.Sub(d.silenceSince) >= d.cfg.SilenceDuration {
		d.fired = true
		return SignalSpeechEnded
	}
	return SignalNone
}

// SpeechDetected reports whether any sample crossed the threshold.
func (d *Detector) SpeechDetected() bool {
	return d.speechSeen
}

// RMS returns the root-mean-square level of samples normalized to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, sample := range samples {
		v := float64(sample) / 32768.0
		energy += v * v
	}
	return math.Sqrt(energy / float64(len(samples)))
}

// Meter holds the most recent frame level for the sampling task.
type Meter struct {
	bits atomic.Uint64
}

func (m *Meter) Store(level float64) {
	m.bits.Store(math.Float64bits(level))
}

func (m *Meter) Load() float64 {
	return math.Float64frombits(m.bits.Load())
}

// Watch samples meter every interval until the detector signals or ctx ends.
func Watch(ctx context.Context, meter *Meter, detector *Detector, interval time.Duration) Signal {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return SignalNone
		case now := <-ticker.C:
			if signal := detector.Observe(meter.Load(), now); signal != SignalNone {
				return signal
			}
		}
	}
}
