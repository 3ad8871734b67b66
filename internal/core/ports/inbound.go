package ports

import (
	"context"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

// Ranker is the inbound contract of the ranking pipeline.
type Ranker interface {
	InferenceRerank(ctx context.Context, req domain.RankRequest) (*domain.RankResult, error)
}

// SelectionLogger records user selections.
type SelectionLogger interface {
	LogSelection(ctx context.Context, sel domain.Selection) bool
}

// SearchService is the /search entry point with legacy fallback.
type SearchService interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
}

// ModelAdmin exposes learned model state to operators.
type ModelAdmin interface {
	Reload(ctx context.Context) error
	Info() domain.ModelInfo
}

// DatasetBuilder builds a labeled training dataset for a time window.
type DatasetBuilder interface {
	Build(ctx context.Context, from, to time.Time) (*domain.Dataset, error)
}
