package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

var errTemp = errors.New("temporary")

func retryAll(err error) ErrorClassification {
	return ErrorClassification{Retryable: errors.Is(err, errTemp), RecordFailure: true}
}

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	err := exec.Execute(context.Background(), "qdrant.search", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, retryAll)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error {
		attempts++
		return errPermanent
	}, retryAll)
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestOverridesResolveExactThenLongestPrefix(t *testing.T) {
	cfg := fastConfig()
	cfg.Overrides = map[string]RetryPolicy{
		"qdrant.":        {MaxAttempts: 2},
		"qdrant.search":  {MaxAttempts: 1},
		"ollama.":        {MaxAttempts: 5},
		"ollama.embed.":  {MaxAttempts: 4},
		"nats.publisher": {MaxAttempts: 9},
	}
	exec := NewExecutor(cfg)

	tests := []struct {
		op   string
		want int
	}{
		{"qdrant.search", 1},
		{"qdrant.upsert", 2},
		{"ollama.generate", 5},
		{"ollama.embed.batch", 4},
		{"nats.publish", 3},
	}
	for _, tc := range tests {
		attempts := 0
		_ = exec.Execute(context.Background(), tc.op, func(context.Context) error {
			attempts++
			return errTemp
		}, retryAll)
		if attempts != tc.want {
			t.Fatalf("%s: expected %d attempts, got %d", tc.op, tc.want, attempts)
		}
	}
}

func TestExecuteSkipsRetryPastDeadline(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryInitialBackoff = time.Second
	cfg.RetryMaxBackoff = time.Second
	exec := NewExecutor(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	attempts := 0
	start := time.Now()
	err := exec.Execute(ctx, "ollama.generate", func(context.Context) error {
		attempts++
		return errTemp
	}, retryAll)
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected the upstream error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retry past the deadline, got %d attempts", attempts)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("expected an immediate return, took %s", time.Since(start))
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	var transitions []string
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
		OnBreakerStateChange: func(operation, from, to string) {
			transitions = append(transitions, operation+":"+from+"->"+to)
		},
	})
	classifier := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "qdrant.search", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "qdrant.search", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if len(transitions) != 1 || transitions[0] != "qdrant.search:closed->open" {
		t.Fatalf("unexpected breaker transitions: %v", transitions)
	}

	_ = exec.Execute(context.Background(), "ollama.embed", func(context.Context) error { return nil }, classifier)
	states := exec.States()
	if len(states) != 2 || states[0] != (BreakerState{Operation: "ollama.embed", State: "closed"}) ||
		states[1] != (BreakerState{Operation: "qdrant.search", State: "open"}) {
		t.Fatalf("unexpected breaker states: %+v", states)
	}
}
