package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor guards upstream calls (vector index, normalizer, queue) with
// retries and one circuit breaker per operation name.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}
	policy := e.cfg.policyFor(op)

	if !e.cfg.BreakerEnabled {
		return e.retry(ctx, op, policy, fn, classifier)
	}
	_, err := e.breaker(op, classifier).Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, op, policy, fn, classifier)
	})
	return err
}

// retry gives up early when the next backoff would outlive the caller's
// deadline.
func (e *Executor) retry(
	ctx context.Context,
	operation string,
	policy RetryPolicy,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	backoff := policy.InitialBackoff
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !classifier(err).Retryable || attempt == policy.MaxAttempts {
			return err
		}

		wait := min(backoff, policy.MaxBackoff)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= wait {
			slog.Warn("retry_skipped_deadline", "operation", operation, "attempt", attempt, "error", err)
			return err
		}
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff = min(time.Duration(float64(backoff)*policy.Multiplier), policy.MaxBackoff)
	}
	return err
}

func (e *Executor) breaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if e.cfg.OnBreakerStateChange != nil {
				e.cfg.OnBreakerStateChange(name, from.String(), to.String())
			}
		},
	})
	e.breakers[operation] = cb
	return cb
}

// BreakerState is a point-in-time view of one operation's breaker.
type BreakerState struct {
	Operation string `json:"operation"`
	State     string `json:"state"`
}

// States lists every breaker created so far, sorted by operation.
func (e *Executor) States() []BreakerState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]BreakerState, 0, len(e.breakers))
	for op, cb := range e.breakers {
		out = append(out, BreakerState{Operation: op, State: cb.State().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}
