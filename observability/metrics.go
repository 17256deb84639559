package observability

import (
	"math"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	escrowerr "bountyescrow/core/errors"
)

type escrowMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	throttles  *prometheus.CounterVec
	circuit    prometheus.Gauge
	vault      prometheus.Gauge
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *escrowMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Escrow returns the lazily registered engine metrics.
func Escrow() *escrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &escrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bountyescrow",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Escrow operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bountyescrow",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Rejected escrow operations segmented by operation and error code.",
			}, []string{"op", "code"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bountyescrow",
				Subsystem: "engine",
				Name:      "throttles_total",
				Help:      "Operations refused by the admission controller or the HTTP limiter.",
			}, []string{"reason"}),
			circuit: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bountyescrow",
				Subsystem: "circuit",
				Name:      "state",
				Help:      "Payout circuit state: 0 closed, 1 open, 2 half open.",
			}),
			vault: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bountyescrow",
				Subsystem: "vault",
				Name:      "balance",
				Help:      "Token balance held by the escrow vault.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.errors,
			escrowRegistry.throttles,
			escrowRegistry.circuit,
			escrowRegistry.vault,
		)
	})
	return escrowRegistry
}

// ObserveOperation counts an engine operation. Coded rejections are also
// counted by code; admission rejections additionally count as throttles.
func (m *escrowMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if err == nil {
		m.operations.WithLabelValues(op, "success").Inc()
		return
	}
	m.operations.WithLabelValues(op, "error").Inc()
	code, ok := escrowerr.CodeOf(err)
	label := "internal"
	if ok {
		label = code.String()
	}
	m.errors.WithLabelValues(op, label).Inc()
	switch code {
	case escrowerr.CodeRateLimitExceeded:
		m.RecordThrottle("rate_limit")
	case escrowerr.CodeCooldownViolation:
		m.RecordThrottle("cooldown")
	}
}

// RecordThrottle counts a refused request under a stable reason label.
func (m *escrowMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// SetCircuitState publishes the numeric breaker state.
func (m *escrowMetrics) SetCircuitState(state uint8) {
	if m == nil {
		return
	}
	m.circuit.Set(float64(state))
}

// SetVaultBalance publishes the vault balance. Values beyond float64 range
// saturate.
func (m *escrowMetrics) SetVaultBalance(balance *big.Int) {
	if m == nil || balance == nil {
		return
	}
	value, _ := new(big.Float).SetInt(balance).Float64()
	if math.IsInf(value, 0) {
		value = math.MaxFloat64
	}
	m.vault.Set(value)
}

// HTTP returns the lazily registered request metrics of escrowd.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bountyescrow",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route, method and status.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bountyescrow",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency of escrowd handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency)
	})
	return httpRegistry
}

// Observe records a completed request.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}
