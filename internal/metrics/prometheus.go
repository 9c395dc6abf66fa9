package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus instruments of the capture pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionOutcomes *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Cascade metrics
	TierAttempts *prometheus.CounterVec
	TierFailures *prometheus.CounterVec

	// Audio metrics
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter

	// Extraction metrics
	ExtractionFailures prometheus.Counter
}

// New creates and registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxsearch_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		SessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxsearch_session_outcomes_total",
			Help: "Completed capture sessions by outcome",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxsearch_session_duration_seconds",
			Help:    "Wall time from start to idle of capture sessions",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),

		TierAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxsearch_tier_attempts_total",
			Help: "Transport tier open attempts",
		}, []string{"tier"}),
		TierFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxsearch_tier_failures_total",
			Help: "Transport tier failures that advanced the cascade",
		}, []string{"tier"}),

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxsearch_frames_sent_total",
			Help: "Audio frames forwarded to a streaming transport",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxsearch_frames_dropped_total",
			Help: "Audio frames dropped after their queue was closed",
		}),

		ExtractionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxsearch_extraction_failures_total",
			Help: "Intent extraction calls that fell back to a raw search",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionFinished counts the outcome and observes the session duration.
func (m *Metrics) RecordSessionFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionOutcomes.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordTierAttempt(tier string) {
	if m == nil {
		return
	}
	m.TierAttempts.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordTierFailure(tier string) {
	if m == nil {
		return
	}
	m.TierFailures.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) RecordFramesDropped(count uint64) {
	if m == nil || count == 0 {
		return
	}
	m.FramesDropped.Add(float64(count))
}

func (m *Metrics) RecordExtractionFailure() {
	if m == nil {
		return
	}
	m.ExtractionFailures.Inc()
}
