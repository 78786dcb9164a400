package controller

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/searchforge/candidate_merge/merge"
	"github.com/searchforge/candidate_merge/score"
	"github.com/searchforge/candidate_merge/sinks"
	"github.com/searchforge/candidate_merge/testutil"
)

func newTestController(t *testing.T, mutate func(*Config)) (*Controller, *testutil.RecordingLateSink, *testutil.RecordingEarlySink) {
	t.Helper()

	late := testutil.NewRecordingLateSink()
	early := testutil.NewRecordingEarlySink()
	cfg := Config{
		Defaults: merge.Config{
			MaxNumLSR:               10,
			LSRSufficiencyThreshold: 1.1,
			MaxNumESR:               5,
			LSRBatchSize:            3,
		},
		DefaultBudgetMS: 60000,
		SessionTTL:      time.Minute,
		Late:            late,
		Early:           early,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ctrl, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ctrl, late, early
}

func TestNewRequiresSinks(t *testing.T) {
	_, err := New(Config{DefaultBudgetMS: 100, Defaults: merge.Config{MaxNumLSR: 1, MaxNumESR: 1, LSRBatchSize: 1}})
	if err == nil {
		t.Fatal("expected error for missing sinks")
	}
}

func TestCreateSessionAppliesDefaults(t *testing.T) {
	ctrl, _, _ := newTestController(t, nil)

	id, err := ctrl.CreateSession(CreateParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a session id")
	}

	stats, err := ctrl.Stats(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.ItemsTracked != 0 || stats.LSRSent != 0 {
		t.Fatalf("expected fresh session stats, got %+v", stats)
	}
}

func TestCreateSessionRejectsBadOverrides(t *testing.T) {
	ctrl, _, _ := newTestController(t, nil)

	_, err := ctrl.CreateSession(CreateParams{
		Config: merge.Config{MaxNumLSR: -1},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}

	_, err = ctrl.CreateSession(CreateParams{BudgetMS: -5})
	if err == nil {
		t.Fatal("expected invalid budget error")
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	ctrl, _, _ := newTestController(t, nil)

	err := ctrl.OnGeneratorCompletion(context.Background(), "missing", 1, nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := ctrl.TriggerTimeout(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := ctrl.Stats("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCompletionFlowsThroughToSinks(t *testing.T) {
	ctrl, late, early := newTestController(t, func(cfg *Config) {
		cfg.Defaults.LSRBatchSize = 2
		cfg.Defaults.Weights = score.WeightTable{
			1: {W0: 0.5, W1: 0.8, W2: 0.2},
		}
	})

	id, err := ctrl.CreateSession(CreateParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	err = ctrl.OnGeneratorCompletion(ctx, id, 1, []merge.CandidateResult{
		{ItemID: "item_1", Rank: 1, Score: 0.9},
		{ItemID: "item_2", Rank: 2, Score: 0.9},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !late.WaitForBatches(1, 2*time.Second) {
		t.Fatal("expected a late-stage batch")
	}
	batches := late.Batches()
	if len(batches[0]) != 2 || batches[0][0] != "item_1" {
		t.Fatalf("expected batch [item_1 item_2], got %v", batches[0])
	}

	selected, err := ctrl.TriggerTimeout(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 0 {
		t.Fatalf("expected empty fallback (everything escalated), got %v", selected)
	}
	if !early.WaitForFlushes(1, 2*time.Second) {
		t.Fatal("expected an early-stage flush")
	}
}

func TestDeadlineDrivesTimeout(t *testing.T) {
	ctrl, _, early := newTestController(t, nil)

	id, err := ctrl.CreateSession(CreateParams{BudgetMS: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	err = ctrl.OnGeneratorCompletion(ctx, id, 1, []merge.CandidateResult{
		{ItemID: "item_1", Rank: 1, Score: 0.1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !early.WaitForFlushes(1, 2*time.Second) {
		t.Fatal("expected the deadline to flush the fallback")
	}

	stats, err := ctrl.Stats(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stats.TimeoutFired {
		t.Fatalf("expected timeout to have fired, got %+v", stats)
	}
}

func TestRegistryEvictsEndedSessions(t *testing.T) {
	ctrl, _, _ := newTestController(t, func(cfg *Config) {
		cfg.SessionTTL = 10 * time.Millisecond
	})

	id, err := ctrl.CreateSession(CreateParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ctrl.TriggerTimeout(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := ctrl.Stats(id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ended session to be evicted, got %v", err)
	}
}

func TestPingProbesSinks(t *testing.T) {
	fake := testutil.NewFakeRanker()
	defer fake.Close()

	client, err := sinks.NewRankerClient("late_stage", fake.URL(), nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The early sink records only and exposes no Ping; it must be skipped.
	ctrl, _, _ := newTestController(t, func(cfg *Config) {
		cfg.Late = client
	})
	if err := ctrl.Ping(context.Background()); err != nil {
		t.Fatalf("expected healthy ping, got %v", err)
	}

	fake.SetResponses(testutil.FakeResponse{Status: http.StatusServiceUnavailable})
	if err := ctrl.Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure when the ranker is down")
	}
}

// blockingLateSink parks the dispatch worker until released so tests can
// observe registry behavior while a Close is waiting on an in-flight send.
type blockingLateSink struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingLateSink) SendCandidates(context.Context, []string) error {
	b.started <- struct{}{}
	<-b.release
	return nil
}

func TestPutSweepDoesNotBlockLookups(t *testing.T) {
	block := &blockingLateSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	early := testutil.NewRecordingEarlySink()

	svc, err := merge.NewService(merge.Config{
		MaxNumLSR:               10,
		LSRSufficiencyThreshold: 1.0,
		MaxNumESR:               5,
		LSRBatchSize:            1,
		Weights:                 score.WeightTable{1: {W0: 0, W1: 1, W2: 0}},
	}, block, early)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Park the dispatch worker inside the sink; Close will have to wait for it.
	err = svc.OnGeneratorCompletion(context.Background(), 1, []merge.CandidateResult{
		{ItemID: "item_1", Rank: 1, Score: 5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-block.started

	reg := NewRegistry(5 * time.Millisecond)
	old := &Session{ID: "old", Service: svc, CreatedAt: time.Now()}
	reg.Put(old)
	old.MarkEnded()
	time.Sleep(20 * time.Millisecond)

	freshSvc, err := merge.NewService(merge.Config{
		MaxNumLSR:               10,
		LSRSufficiencyThreshold: 1.0,
		MaxNumESR:               5,
		LSRBatchSize:            1,
	}, testutil.NewRecordingLateSink(), testutil.NewRecordingEarlySink())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(freshSvc.Close)

	done := make(chan struct{})
	go func() {
		reg.Put(&Session{ID: "fresh", Service: freshSvc, CreatedAt: time.Now()})
		close(done)
	}()

	// Let the sweep evict the old session and enter its blocked Close.
	time.Sleep(20 * time.Millisecond)

	got := make(chan int, 1)
	go func() { got <- reg.Len() }()
	select {
	case n := <-got:
		if n != 1 {
			t.Fatalf("expected 1 live session, got %d", n)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("registry lookup blocked behind an eviction")
	}

	close(block.release)
	<-done
}

func TestZeroThresholdOverrideIsHonored(t *testing.T) {
	ctrl, late, _ := newTestController(t, func(cfg *Config) {
		cfg.Defaults.LSRBatchSize = 1
		cfg.Defaults.Weights = score.WeightTable{1: {W0: 0, W1: 1, W2: 0}}
	})

	zero := 0.0
	id, err := ctrl.CreateSession(CreateParams{Threshold: &zero})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Estimate 0.5 clears the explicit 0 threshold; the 1.1 default would
	// have rejected it.
	err = ctrl.OnGeneratorCompletion(context.Background(), id, 1, []merge.CandidateResult{
		{ItemID: "item_1", Rank: 1, Score: 0.5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !late.WaitForBatches(1, 2*time.Second) {
		t.Fatal("expected the zero-threshold session to escalate the item")
	}
}
