// Package metrics はゲートウェイのPrometheusメトリクスを提供する。
//
// グローバルレジストリを汚さないよう、インスタンスごとに専用のレジストリを持つ。
// nilの*Metricsに対する記録は何もしない。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Metrics はゲートウェイのメトリクス一式。
type Metrics struct {
	registry *prometheus.Registry

	dispatchTotal      *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec
	dispatchAttempts   *prometheus.CounterVec
	rateLimitDecisions *prometheus.CounterVec
	authFailures       *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	responses          *prometheus.CounterVec
}

// New はメトリクスを生成し、専用レジストリに登録する。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Total number of dispatched requests by outcome.",
		}, []string{"service", "method", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent dispatching a request including retries.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"service", "outcome"}),
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Total number of outbound attempts including retries.",
		}, []string{"service"}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions by result.",
		}, []string{"decision"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Credential verification failures by reason and auth mode.",
		}, []string{"reason", "mode"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per service (0=closed, 1=half-open, 2=open).",
		}, []string{"service"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses returned to clients by status code.",
		}, []string{"code"}),
	}

	m.registry.MustRegister(
		m.dispatchTotal,
		m.dispatchDuration,
		m.dispatchAttempts,
		m.rateLimitDecisions,
		m.authFailures,
		m.breakerState,
		m.responses,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry は専用レジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は/metrics用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDispatch は1回の転送結果を記録する。
func (m *Metrics) ObserveDispatch(service, method, outcome string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(service, method, outcome).Inc()
	m.dispatchDuration.WithLabelValues(service, outcome).Observe(elapsed.Seconds())
	m.dispatchAttempts.WithLabelValues(service).Add(float64(attempts))
}

// ObserveAdmission はレート制限の判定結果を記録する。
func (m *Metrics) ObserveAdmission(decision string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(decision).Inc()
}

// ObserveAuthFailure は認証失敗を記録する。
func (m *Metrics) ObserveAuthFailure(reason, mode string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason, mode).Inc()
}

// SetBreakerState はサーキットブレーカーの状態を記録する。
func (m *Metrics) SetBreakerState(service string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(service).Set(state)
}

// ObserveResponse はクライアントへのレスポンスを記録する。
func (m *Metrics) ObserveResponse(code string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(code).Inc()
}
