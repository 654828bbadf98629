package metrics

import (
	"time"

	"github.com/lazypower/sanctum/internal/fault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the tenant storage layer.
// A nil *Metrics is valid and records nothing, so stores can be built
// without instrumentation in tests and tools.
type Metrics struct {
	// Operations by component (tenant, brain, records, lifecycle, isolation),
	// operation name and fault kind ("none" on success).
	Operations *prometheus.CounterVec
	Latency    *prometheus.HistogramVec

	Quarantines      prometheus.Counter
	VerifyScore      prometheus.Histogram
	OpenHandles      prometheus.Gauge
	TombstonesPurged prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sanctum_store_operations_total",
			Help: "Tenant store operations by component, operation and fault kind",
		}, []string{"component", "op", "fault"}),

		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sanctum_store_operation_duration_seconds",
			Help:    "Tenant store operation latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"component", "op"}),

		Quarantines: f.NewCounter(prometheus.CounterOpts{
			Name: "sanctum_brain_quarantines_total",
			Help: "Brain documents renamed aside after failing to parse or matching another user",
		}),

		VerifyScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sanctum_isolation_score_ratio",
			Help:    "Isolation verification score as a fraction of checks passed",
			Buckets: []float64{0, 0.2, 0.4, 0.6, 0.8, 1},
		}),

		OpenHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "sanctum_record_handles_open",
			Help: "Per-user record databases currently open",
		}),

		TombstonesPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "sanctum_erase_tombstones_purged_total",
			Help: "Leftover erase tombstones removed by maintenance or retried erasures",
		}),
	}
}

// Observe records one operation that started at start and ended with err.
func (m *Metrics) Observe(component, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(component, op, fault.Describe(err)).Inc()
	m.Latency.WithLabelValues(component, op).Observe(time.Since(start).Seconds())
}

// Quarantined counts one quarantined document.
func (m *Metrics) Quarantined() {
	if m == nil {
		return
	}
	m.Quarantines.Inc()
}

// Verified records an isolation score.
func (m *Metrics) Verified(score, total int) {
	if m == nil || total == 0 {
		return
	}
	m.VerifyScore.Observe(float64(score) / float64(total))
}

// HandleOpened and HandleClosed track the open record database gauge.
func (m *Metrics) HandleOpened() {
	if m == nil {
		return
	}
	m.OpenHandles.Inc()
}

func (m *Metrics) HandleClosed() {
	if m == nil {
		return
	}
	m.OpenHandles.Dec()
}

// Purged counts removed tombstones.
func (m *Metrics) Purged(n int) {
	if m == nil || n == 0 {
		return
	}
	m.TombstonesPurged.Add(float64(n))
}

// WatchLocks exports size, the number of users with lock holders or
// waiters, as a gauge read at scrape time.
func WatchLocks(reg prometheus.Registerer, size func() int) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sanctum_user_locks_active",
		Help: "Users whose storage lock currently has holders or waiters",
	}, func() float64 { return float64(size()) })
}
