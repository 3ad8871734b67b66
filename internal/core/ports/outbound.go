package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

// QueryNormalizer turns free text into a NormalizedQuery (typically an LLM).
type QueryNormalizer interface {
	Normalize(ctx context.Context, kind domain.NormalizeKind, rawText, category string) (domain.NormalizedQuery, error)
}

// NormalizationCache stores normalized queries by key with a bounded TTL.
type NormalizationCache interface {
	Get(ctx context.Context, key string) (domain.NormalizedQuery, bool, error)
	Set(ctx context.Context, key string, q domain.NormalizedQuery, ttl time.Duration) error
}

// Embedder builds vectors for found-item descriptions and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex indexes found items and performs semantic search.
type VectorIndex interface {
	Upsert(ctx context.Context, items []domain.FoundItem, vectors [][]float32) error
	Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.VectorHit, error)
}

// KeywordIndex performs token search over found items.
type KeywordIndex interface {
	SearchText(ctx context.Context, tokens []string, limit int, filter domain.SearchFilter) ([]domain.KeywordHit, error)
}

// FoundItemStore persists found items and their extracted attributes.
// Available reports false in disconnected mode.
type FoundItemStore interface {
	Available() bool
	GetItems(ctx context.Context, ids []string) (map[string]domain.FoundItem, error)
	ListUnprocessed(ctx context.Context, afterID string, limit int) ([]domain.FoundItem, error)
	ListAll(ctx context.Context, afterID string, limit int) ([]domain.FoundItem, error)
	SaveAttributes(ctx context.Context, id string, attrs domain.Attributes, searchableTokens []string) error
}

// FeedbackStore persists impressions and selections and reads verifications.
type FeedbackStore interface {
	Available() bool
	InsertImpression(ctx context.Context, imp domain.Impression) error
	InsertSelection(ctx context.Context, sel domain.Selection) error
	ListSelectedImpressions(ctx context.Context, from, to time.Time) ([]domain.SelectedImpression, error)
	ListVerifications(ctx context.Context, queryIDs []string) (map[domain.VerificationKey]bool, error)
}

// ImpressionPublisher hands impressions to an asynchronous writer.
type ImpressionPublisher interface {
	PublishImpression(ctx context.Context, imp domain.Impression) error
}

// ImpressionSubscriber consumes published impressions.
type ImpressionSubscriber interface {
	SubscribeImpressions(ctx context.Context, handler func(context.Context, domain.Impression) error) error
}

// LearnedScorer scores feature rows with the currently loaded model and
// returns the model version that produced the scores.
type LearnedScorer interface {
	Predict(ctx context.Context, rows [][]float64) ([]float64, string, error)
}

// ModelStore keeps opaque model artifacts and the current-model pointer.
type ModelStore interface {
	SaveArtifact(ctx context.Context, version string, data io.Reader) error
	OpenArtifact(ctx context.Context, version string) (io.ReadCloser, error)
	CurrentVersion(ctx context.Context) (string, error)
	SetCurrentVersion(ctx context.Context, version string) error
}

// DatasetExporter writes a built dataset to an external file.
type DatasetExporter interface {
	Export(ds *domain.Dataset, path string) error
}
