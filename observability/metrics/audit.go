package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AuditMetrics tracks the escrowd audit trail: rows appended, rows exported
// and live stream subscribers.
type AuditMetrics struct {
	appended    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	exported    prometheus.Counter
	subscribers prometheus.Gauge
	dropped     prometheus.Counter
}

var (
	auditOnce     sync.Once
	auditRegistry *AuditMetrics
)

func Audit() *AuditMetrics {
	auditOnce.Do(func() {
		auditRegistry = &AuditMetrics{
			appended: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bountyescrow_audit_appended_total",
				Help: "Audit rows appended by event type.",
			}, []string{"type"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bountyescrow_audit_failures_total",
				Help: "Audit append failures by stage.",
			}, []string{"stage"}),
			exported: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "bountyescrow_audit_exported_rows_total",
				Help: "Audit rows written to parquet exports.",
			}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bountyescrow_stream_subscribers",
				Help: "Connected websocket event subscribers.",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "bountyescrow_stream_dropped_total",
				Help: "Events dropped for slow websocket subscribers.",
			}),
		}
		prometheus.MustRegister(
			auditRegistry.appended,
			auditRegistry.failures,
			auditRegistry.exported,
			auditRegistry.subscribers,
			auditRegistry.dropped,
		)
	})
	return auditRegistry
}

func (m *AuditMetrics) ObserveAppended(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.appended.WithLabelValues(eventType).Inc()
}

func (m *AuditMetrics) IncFailure(stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	m.failures.WithLabelValues(stage).Inc()
}

func (m *AuditMetrics) AddExported(rows int) {
	if m == nil || rows <= 0 {
		return
	}
	m.exported.Add(float64(rows))
}

func (m *AuditMetrics) SubscriberJoined() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *AuditMetrics) SubscriberLeft() {
	if m != nil {
		m.subscribers.Dec()
	}
}

func (m *AuditMetrics) IncDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}
