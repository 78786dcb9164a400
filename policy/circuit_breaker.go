package policy

import (
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows all traffic.
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen allows limited traffic to probe recovery.
	CircuitHalfOpen
	// CircuitOpen blocks all traffic.
	CircuitOpen
)

// CircuitBreakerConfig configures the breaker behaviour.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenMaxCalls bounds in-flight probes while half-open.
	HalfOpenMaxCalls int
}

// CircuitBreaker trips after consecutive sink failures and probes recovery
// after a cooldown.
type CircuitBreaker struct {
	cfg     CircuitBreakerConfig
	sink    string
	metrics *Metrics

	mu            sync.Mutex
	state         CircuitState
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

// NewCircuitBreaker constructs a breaker for the named sink.
func NewCircuitBreaker(sink string, cfg CircuitBreakerConfig, metrics *Metrics) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	cb := &CircuitBreaker{
		cfg:   cfg,
		sink:  sink,
		state: CircuitClosed,
	}
	cb.metrics = metrics
	metrics.SetCircuitState(sink, CircuitClosed)
	return cb
}

// Allow reports whether a call may proceed at the given time.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitOpen:
		if now.Sub(c.openedAt) < c.cfg.Cooldown {
			return false
		}
		c.transition(CircuitHalfOpen)
		c.halfOpenCalls = 1
		return true
	case CircuitHalfOpen:
		if c.halfOpenCalls >= c.cfg.HalfOpenMaxCalls {
			return false
		}
		c.halfOpenCalls++
		return true
	default:
		return true
	}
}

// Record registers the outcome of a call.
func (c *CircuitBreaker) Record(now time.Time, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if success {
		c.failures = 0
		if c.state != CircuitClosed {
			c.transition(CircuitClosed)
		}
		c.halfOpenCalls = 0
		return
	}

	if c.state == CircuitHalfOpen {
		c.open(now)
		return
	}

	c.failures++
	if c.failures >= c.cfg.FailureThreshold {
		c.open(now)
	}
}

// State returns the current breaker state.
func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CircuitBreaker) open(now time.Time) {
	c.transition(CircuitOpen)
	c.openedAt = now
	c.failures = 0
	c.halfOpenCalls = 0
}

func (c *CircuitBreaker) transition(state CircuitState) {
	if c.state == state {
		return
	}
	c.state = state
	c.metrics.SetCircuitState(c.sink, state)
}
