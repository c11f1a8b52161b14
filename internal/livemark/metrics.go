package livemark

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "livemarks"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	inFlight        prometheus.Gauge
	sweeps          *prometheus.CounterVec
	skips           *prometheus.CounterVec
	cancellations   prometheus.Counter
	livemarks       prometheus.Gauge
	entries         *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "load_sessions_total",
			Help:      "Load sessions by terminal state.",
		}, []string{"state"}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "load_session_duration_seconds",
			Help:      "Wall time from lock acquisition to release.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "load_sessions_in_flight",
			Help:      "Load sessions currently holding a record lock.",
		}),
		sweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sweeps_total",
			Help:      "Registry sweeps by mode.",
		}, []string{"mode"}),
		skips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_skips_total",
			Help:      "Records passed over during a sweep, by reason.",
		}, []string{"reason"}),
		cancellations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "load_cancellations_total",
			Help:      "In-flight loads cancelled by shutdown or folder removal.",
		}),
		livemarks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "registered",
			Help:      "Livemark folders tracked by the registry.",
		}),
		entries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "feed_entries_total",
			Help:      "Feed entries seen during commits, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) sessionFinished(state State, seconds float64) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.sessions.WithLabelValues(state.String()).Inc()
	m.sessionDuration.Observe(seconds)
}

func (m *Metrics) sweep(force bool) {
	if m == nil {
		return
	}
	mode := "scheduled"
	if force {
		mode = "forced"
	}
	m.sweeps.WithLabelValues(mode).Inc()
}

func (m *Metrics) skip(reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(reason).Inc()
}

func (m *Metrics) cancellation() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

func (m *Metrics) registered(count int) {
	if m == nil {
		return
	}
	m.livemarks.Set(float64(count))
}

func (m *Metrics) committed(inserted, rejected int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues("inserted").Add(float64(inserted))
	m.entries.WithLabelValues("rejected").Add(float64(rejected))
}
