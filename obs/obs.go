//go:build !nometrics

package obs

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

var (
	setupOnce sync.Once
	shutdown  = func(context.Context) error { return nil }
)

var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candidate_merge_requests_total",
		Help: "Total API requests by return code.",
	}, []string{"code"})
	apiDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "candidate_merge_request_duration_ms",
		Help:    "Histogram of API request latency in ms.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 8),
	})
	lateStageSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candidate_merge_lsr_sent_total",
		Help: "Total items escalated to the late-stage ranker.",
	})
	fallbackFlushSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "candidate_merge_fallback_flush_size",
		Help:    "Histogram of item counts flushed to the early-stage ranker on timeout.",
		Buckets: prometheus.LinearBuckets(0, 5, 10),
	})
	droppedDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candidate_merge_dropped_dispatches_total",
		Help: "Count of sink dispatches dropped because the dispatch buffer was full.",
	}, []string{"sink"})
	deadlinesFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candidate_merge_deadline_fired_total",
		Help: "Total sessions whose budget deadline expired before completion.",
	})
)

// ObserveRequest records API-level metrics.
func ObserveRequest(code string, duration time.Duration, traceID string) {
	apiRequests.WithLabelValues(code).Inc()
	if eo, ok := apiDuration.(prometheus.ExemplarObserver); ok && traceID != "" {
		eo.ObserveWithExemplar(
			float64(duration.Milliseconds()),
			prometheus.Labels{"trace_id": traceID},
		)
		return
	}
	apiDuration.Observe(float64(duration.Milliseconds()))
}

// AddLateStageSent counts items escalated to the late-stage ranker.
func AddLateStageSent(n int) {
	lateStageSent.Add(float64(n))
}

// ObserveFallbackFlush records the size of a timeout flush.
func ObserveFallbackFlush(n int) {
	fallbackFlushSize.Observe(float64(n))
}

// IncDroppedDispatch counts a sink dispatch dropped on a full buffer.
func IncDroppedDispatch(sink string) {
	droppedDispatches.WithLabelValues(sink).Inc()
}

// IncDeadlineFired records a session deadline expiry.
func IncDeadlineFired() {
	deadlinesFired.Inc()
}

// InitTracer sets up a minimal OpenTelemetry tracer provider.
func InitTracer(serviceName string) (func(context.Context) error, error) {
	var initErr error
	setupOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
			),
		)
		if err != nil {
			initErr = err
			return
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.3))),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
		shutdown = provider.Shutdown
	})
	return shutdown, initErr
}
