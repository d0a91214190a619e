package handshake

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the handshake-level counters and duration histogram a
// caller can register on its own Prometheus registry. A nil *Metrics is
// always safe to use: every method on it is a nil-receiver no-op.
type Metrics struct {
	started  prometheus.Counter
	success  prometheus.Counter
	failed   *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics constructs a Metrics with the given namespace (e.g. "curve")
// used as the Prometheus metric name prefix.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "started_total",
			Help:      "Number of handshakes started.",
		}),
		success: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "succeeded_total",
			Help:      "Number of handshakes that reached the connected state.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "failed_total",
			Help:      "Number of handshakes that became fatally broken, labeled by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "duration_seconds",
			Help:      "Wall-clock time from the first Execute call to either connected or exception.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Collectors returns every metric so a caller can MustRegister them on its
// own prometheus.Registerer.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{m.started, m.success, m.failed, m.duration}
}

func (m *Metrics) observeStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
}

func (m *Metrics) observeSuccess(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.success.Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeFailure(reason Reason, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(reason.String()).Inc()
	m.duration.Observe(elapsed.Seconds())
}
