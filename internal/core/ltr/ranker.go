package ltr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
)

const defaultInferenceTimeout = 200 * time.Millisecond

// Ranker serves the current LinearModel. The model is swapped atomically on
// Reload; Predict never takes a lock.
type Ranker struct {
	store   ports.ModelStore
	timeout time.Duration
	current atomic.Pointer[LinearModel]
}

func NewRanker(store ports.ModelStore, timeout time.Duration) *Ranker {
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}
	return &Ranker{store: store, timeout: timeout}
}

// Reload loads the artifact named by the current-model pointer. On failure
// the previously loaded model stays in place.
func (r *Ranker) Reload(ctx context.Context) error {
	if r.store == nil {
		return domain.WrapError(domain.ErrModelUnavailable, "reload model", errors.New("no model store"))
	}
	version, err := r.store.CurrentVersion(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrModelUnavailable, "reload model", err)
	}
	rc, err := r.store.OpenArtifact(ctx, version)
	if err != nil {
		return domain.WrapError(domain.ErrModelUnavailable, "reload model", err)
	}
	defer rc.Close()

	model, err := DecodeModel(rc)
	if err != nil {
		return domain.WrapError(domain.ErrModelUnavailable, "reload model", err)
	}
	if model.Version == "" {
		model.Version = version
	}

	prev := r.current.Swap(model)
	attrs := []any{"version", model.Version}
	if prev != nil {
		attrs = append(attrs, "previous", prev.Version)
	}
	slog.Info("learned_model_loaded", attrs...)
	return nil
}

// Set installs a model directly.
func (r *Ranker) Set(model *LinearModel) error {
	if err := model.Validate(); err != nil {
		return domain.WrapError(domain.ErrModelUnavailable, "set model", err)
	}
	r.current.Store(model)
	return nil
}

// Version returns the loaded model version or "" when none is loaded.
func (r *Ranker) Version() string {
	if m := r.current.Load(); m != nil {
		return m.Version
	}
	return ""
}

func (r *Ranker) Info() domain.ModelInfo {
	m := r.current.Load()
	if m == nil {
		return domain.ModelInfo{FeatureSchema: domain.FeatureSchemaVersion}
	}
	return domain.ModelInfo{Version: m.Version, FeatureSchema: m.FeatureSchema, Loaded: true}
}

type prediction struct {
	scores []float64
	err    error
}

// Predict scores rows with the loaded model within the inference timeout.
// It returns the version that produced the scores.
func (r *Ranker) Predict(ctx context.Context, rows [][]float64) ([]float64, string, error) {
	model := r.current.Load()
	if model == nil {
		return nil, "", domain.WrapError(domain.ErrModelUnavailable, "predict", errors.New("no model loaded"))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan prediction, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- prediction{err: fmt.Errorf("model panic: %v", rec)}
			}
		}()
		scores, err := model.Predict(rows)
		done <- prediction{scores: scores, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, "", domain.WrapError(domain.ErrModelUnavailable, "predict", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, "", domain.WrapError(domain.ErrModelUnavailable, "predict", res.err)
		}
		if len(res.scores) != len(rows) {
			return nil, "", domain.WrapError(domain.ErrModelUnavailable, "predict", fmt.Errorf("expected %d scores, got %d", len(rows), len(res.scores)))
		}
		return res.scores, model.Version, nil
	}
}
