package policy

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the sink dispatch rate limiter.
type RateLimitConfig struct {
	// PerSecond is the sustained dispatch rate; zero disables limiting.
	PerSecond float64
	// Burst is the burst capacity.
	Burst int
}

// DispatchConfig configures the per-sink dispatch controls.
type DispatchConfig struct {
	Name    string
	Timeout time.Duration
	Rate    RateLimitConfig
	Circuit CircuitBreakerConfig
}

// DispatchPolicy applies timeout, rate limiting, and circuit breaking to
// calls against a ranker sink.
type DispatchPolicy struct {
	name    string
	timeout time.Duration
	limiter *rate.Limiter
	circuit *CircuitBreaker
	metrics *Metrics
}

// NewDispatchPolicy constructs a DispatchPolicy with the provided
// configuration.
func NewDispatchPolicy(cfg DispatchConfig, metrics *Metrics) (*DispatchPolicy, error) {
	if cfg.Name == "" {
		return nil, errors.New("sink name required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("sink timeout must be positive")
	}

	var limiter *rate.Limiter
	if cfg.Rate.PerSecond > 0 {
		burst := cfg.Rate.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate.PerSecond), burst)
	}

	return &DispatchPolicy{
		name:    cfg.Name,
		timeout: cfg.Timeout,
		limiter: limiter,
		circuit: NewCircuitBreaker(cfg.Name, cfg.Circuit, metrics),
		metrics: metrics,
	}, nil
}

// Execute wraps a sink call applying the configured circuit breaker, rate
// limiter, and timeout.
func (p *DispatchPolicy) Execute(parent context.Context, fn func(context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}

	now := time.Now()

	if !p.circuit.Allow(now) {
		p.metrics.ObserveDispatch(p.name, 0, ErrCircuitOpen)
		return ErrCircuitOpen
	}

	if p.limiter != nil && !p.limiter.Allow() {
		p.metrics.IncRateLimited(p.name)
		return ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	p.metrics.ObserveDispatch(p.name, time.Since(start), err)

	p.circuit.Record(time.Now(), err == nil)
	return err
}
