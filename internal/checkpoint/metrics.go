// internal/checkpoint/metrics.go
package checkpoint

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// refresh triggers
const (
	triggerConstruction = "construction"
	triggerRead         = "read"
	triggerWatch        = "watch"
	triggerExplicit     = "explicit"
)

// Metrics holds the layer's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	storeDuration *prometheus.HistogramVec
	sessions      prometheus.Gauge
	cacheRecords  *prometheus.GaugeVec
	refreshes     *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		storeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkpointd_store_operation_duration_seconds",
			Help:    "Duration of checkpoint store operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"op", "outcome"}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "checkpointd_sessions",
			Help: "Number of initialized sessions",
		}),
		cacheRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "checkpointd_cache_records",
			Help: "Checkpoint records held in a session's cache",
		}, []string{"session"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpointd_cache_refreshes_total",
			Help: "Cache refreshes from the store by trigger",
		}, []string{"session", "trigger"}),
	}
}

func (m *Metrics) observeStore(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storeDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) setCacheRecords(sessionID string, n int) {
	if m == nil {
		return
	}
	m.cacheRecords.WithLabelValues(sessionID).Set(float64(n))
}

func (m *Metrics) incRefresh(sessionID, trigger string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(sessionID, trigger).Inc()
}
