package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/searchforge/candidate_merge/merge"
	"github.com/searchforge/candidate_merge/policy"
)

var (
	// ErrSessionNotFound indicates the session ID is unknown or expired.
	ErrSessionNotFound = errors.New("session not found")
)

// Pinger is implemented by sinks that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config groups controller dependencies.
type Config struct {
	// Defaults supplies session knobs for create requests that omit them.
	Defaults merge.Config
	// DefaultBudgetMS is the session deadline budget when unspecified.
	DefaultBudgetMS int
	// SessionTTL is how long an ended session stays queryable.
	SessionTTL time.Duration

	Late  merge.LateStageSink
	Early merge.EarlyStageSink
	// LatePolicy and EarlyPolicy optionally guard the sink calls.
	LatePolicy  *policy.DispatchPolicy
	EarlyPolicy *policy.DispatchPolicy
}

// Controller creates ranking sessions and routes generator completions and
// timeouts to them.
type Controller struct {
	cfg      Config
	registry *Registry
	late     merge.LateStageSink
	early    merge.EarlyStageSink
}

// New constructs a controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Late == nil {
		return nil, fmt.Errorf("late-stage sink required")
	}
	if cfg.Early == nil {
		return nil, fmt.Errorf("early-stage sink required")
	}
	if cfg.DefaultBudgetMS <= 0 {
		return nil, policy.ErrInvalidBudget
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("session defaults: %w", err)
	}

	late := cfg.Late
	if cfg.LatePolicy != nil {
		late = &guardedLateSink{sink: cfg.Late, policy: cfg.LatePolicy}
	}
	early := cfg.Early
	if cfg.EarlyPolicy != nil {
		early = &guardedEarlySink{sink: cfg.Early, policy: cfg.EarlyPolicy}
	}

	return &Controller{
		cfg:      cfg,
		registry: NewRegistry(cfg.SessionTTL),
		late:     late,
		early:    early,
	}, nil
}

// CreateParams carries per-session overrides; zero fields fall back to the
// controller defaults. Threshold is a pointer because 0 is a legal value for
// the admission threshold, so presence has to be explicit.
type CreateParams struct {
	BudgetMS  int
	Threshold *float64
	Config    merge.Config
}

// CreateSession builds a session service, arms its deadline, and registers
// it. The deadline drives the timeout fallback without further external
// involvement.
func (c *Controller) CreateSession(params CreateParams) (string, error) {
	cfg := c.sessionConfig(params)
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	budgetMS := params.BudgetMS
	if budgetMS == 0 {
		budgetMS = c.cfg.DefaultBudgetMS
	}

	svc, err := merge.NewService(cfg, c.late, c.early)
	if err != nil {
		return "", err
	}

	session := &Session{
		ID:        uuid.NewString(),
		Service:   svc,
		CreatedAt: time.Now(),
	}

	deadline, err := policy.NewSessionDeadline(context.Background(), budgetMS, func() {
		_, _ = svc.OnTimeout(context.Background())
		session.MarkEnded()
	})
	if err != nil {
		svc.Close()
		return "", err
	}
	session.Deadline = deadline

	c.registry.Put(session)
	return session.ID, nil
}

// OnGeneratorCompletion routes a generator report to its session.
func (c *Controller) OnGeneratorCompletion(ctx context.Context, sessionID string, generatorID int, results []merge.CandidateResult) error {
	session, ok := c.registry.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return session.Service.OnGeneratorCompletion(ctx, generatorID, results)
}

// TriggerTimeout runs the fallback now instead of waiting for the deadline.
// The service's own once-guard keeps a racing deadline from flushing twice.
func (c *Controller) TriggerTimeout(ctx context.Context, sessionID string) ([]merge.ScoredItem, error) {
	session, ok := c.registry.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	selected, err := session.Service.OnTimeout(ctx)
	if err != nil {
		return nil, err
	}
	session.MarkEnded()
	session.Deadline.Cancel()
	return selected, nil
}

// Stats reports session progress.
func (c *Controller) Stats(sessionID string) (merge.Stats, error) {
	session, ok := c.registry.Get(sessionID)
	if !ok {
		return merge.Stats{}, ErrSessionNotFound
	}
	return session.Service.Stats(), nil
}

// Sessions returns the number of tracked sessions.
func (c *Controller) Sessions() int {
	return c.registry.Len()
}

// Ping probes both ranker sinks concurrently; sinks that cannot be probed
// are skipped.
func (c *Controller) Ping(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sink := range []any{c.cfg.Late, c.cfg.Early} {
		pinger, ok := sink.(Pinger)
		if !ok {
			continue
		}
		g.Go(func() error {
			return pinger.Ping(ctx)
		})
	}
	return g.Wait()
}

func (c *Controller) sessionConfig(params CreateParams) merge.Config {
	cfg := c.cfg.Defaults
	overrides := params.Config
	if overrides.MaxNumLSR != 0 {
		cfg.MaxNumLSR = overrides.MaxNumLSR
	}
	if params.Threshold != nil {
		cfg.LSRSufficiencyThreshold = *params.Threshold
	}
	if overrides.MaxNumESR != 0 {
		cfg.MaxNumESR = overrides.MaxNumESR
	}
	if overrides.LSRBatchSize != 0 {
		cfg.LSRBatchSize = overrides.LSRBatchSize
	}
	if overrides.Weights != nil {
		cfg.Weights = overrides.Weights
	}
	return cfg
}

type guardedLateSink struct {
	sink   merge.LateStageSink
	policy *policy.DispatchPolicy
}

func (g *guardedLateSink) SendCandidates(ctx context.Context, itemIDs []string) error {
	return g.policy.Execute(ctx, func(ctx context.Context) error {
		return g.sink.SendCandidates(ctx, itemIDs)
	})
}

type guardedEarlySink struct {
	sink   merge.EarlyStageSink
	policy *policy.DispatchPolicy
}

func (g *guardedEarlySink) SendScored(ctx context.Context, items []merge.ScoredItem) error {
	return g.policy.Execute(ctx, func(ctx context.Context) error {
		return g.sink.SendScored(ctx, items)
	})
}
