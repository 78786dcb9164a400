package policy

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/searchforge/candidate_merge/testutil"
)

func TestDispatchPolicyRejectsBadConfig(t *testing.T) {
	if _, err := NewDispatchPolicy(DispatchConfig{Timeout: time.Second}, nil); err == nil {
		t.Fatal("expected error for missing sink name")
	}
	if _, err := NewDispatchPolicy(DispatchConfig{Name: "sink"}, nil); err == nil {
		t.Fatal("expected error for missing timeout")
	}
}

func TestDispatchPolicyTimeoutTriggersError(t *testing.T) {
	fake := testutil.NewFakeRanker(testutil.FakeResponse{
		Delay:  150 * time.Millisecond,
		Status: http.StatusOK,
	})
	defer fake.Close()

	policy, err := NewDispatchPolicy(DispatchConfig{
		Name:    "fake",
		Timeout: 50 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	callErr := policy.Execute(context.Background(), func(ctx context.Context) error {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fake.URL(), nil)
		resp, err := http.DefaultClient.Do(req)
		if resp != nil {
			resp.Body.Close()
		}
		return err
	})

	if !errors.Is(callErr, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", callErr)
	}
}

func TestDispatchPolicyCircuitOpensAfterFailures(t *testing.T) {
	policy, err := NewDispatchPolicy(DispatchConfig{
		Name:    "fake",
		Timeout: 200 * time.Millisecond,
		Circuit: CircuitBreakerConfig{
			FailureThreshold: 2,
			Cooldown:         time.Second,
			HalfOpenMaxCalls: 1,
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failing := func(context.Context) error { return errors.New("boom") }
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = policy.Execute(ctx, failing)
	}

	if err := policy.Execute(ctx, failing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
}

func TestDispatchPolicyRateLimits(t *testing.T) {
	policy, err := NewDispatchPolicy(DispatchConfig{
		Name:    "fake",
		Timeout: 200 * time.Millisecond,
		Rate: RateLimitConfig{
			PerSecond: 0.5,
			Burst:     1,
		},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok := func(context.Context) error { return nil }
	ctx := context.Background()
	if err := policy.Execute(ctx, ok); err != nil {
		t.Fatalf("expected first call allowed, got %v", err)
	}
	if err := policy.Execute(ctx, ok); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}
