package policy

import "errors"

var (
	// ErrCircuitOpen indicates the sink circuit breaker is currently open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrRateLimited indicates sink dispatches are being rate limited.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidBudget indicates the provided session budget is invalid.
	ErrInvalidBudget = errors.New("invalid budget")
)
