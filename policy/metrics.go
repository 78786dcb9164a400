//go:build !nometrics

package policy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the dispatch-policy Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	dispatchLatency *prometheus.HistogramVec
	dispatchErrors  *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
}

// MetricsOption allows customizing the metrics registry.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	registerer prometheus.Registerer
	buckets    []float64
}

// WithRegisterer overrides the default Prometheus registerer.
func WithRegisterer(r prometheus.Registerer) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.registerer = r
	}
}

// WithLatencyBuckets overrides the default latency histogram buckets (in ms).
func WithLatencyBuckets(buckets []float64) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.buckets = buckets
	}
}

// NewMetrics constructs Metrics and registers the Prometheus collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{
		registerer: prometheus.DefaultRegisterer,
		buckets: []float64{
			5, 10, 20, 50, 100, 200, 500, 1000, 2000,
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	dispatchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "candidate_merge_dispatch_latency_ms",
		Help:    "Latency in milliseconds for each ranker sink dispatch.",
		Buckets: cfg.buckets,
	}, []string{"sink"})

	dispatchErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "candidate_merge_dispatch_errors_total",
		Help: "Count of failed dispatches per ranker sink.",
	}, []string{"sink"})

	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "candidate_merge_dispatch_rate_limited_total",
		Help: "Count of dispatches rejected by the rate limiter per sink.",
	}, []string{"sink"})

	circuitState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "candidate_merge_sink_circuit_state",
		Help: "Circuit breaker state for each ranker sink. 0=closed, 1=half-open, 2=open.",
	}, []string{"sink"})

	return &Metrics{
		dispatchLatency: register(cfg.registerer, dispatchLatency),
		dispatchErrors:  register(cfg.registerer, dispatchErrors),
		rateLimited:     register(cfg.registerer, rateLimited),
		circuitState:    register(cfg.registerer, circuitState),
	}
}

// ObserveDispatch records the latency and error status for a sink call.
func (m *Metrics) ObserveDispatch(sink string, latency time.Duration, err error) {
	if m == nil {
		return
	}

	ms := float64(latency.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	m.dispatchLatency.WithLabelValues(sink).Observe(ms)
	if err != nil {
		m.dispatchErrors.WithLabelValues(sink).Inc()
	}
}

// IncRateLimited counts a rate-limited dispatch.
func (m *Metrics) IncRateLimited(sink string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(sink).Inc()
}

// SetCircuitState records the circuit breaker state for a sink.
func (m *Metrics) SetCircuitState(sink string, state CircuitState) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(sink).Set(float64(state))
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if registerer == nil {
		return collector
	}
	if err := registerer.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
			return collector
		}
		panic(err)
	}
	return collector
}
