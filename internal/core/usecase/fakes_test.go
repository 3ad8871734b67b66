package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

type fakeNormalizer struct {
	q     domain.NormalizedQuery
	err   error
	calls int
	kinds []domain.NormalizeKind
}

func (f *fakeNormalizer) Normalize(_ context.Context, kind domain.NormalizeKind, rawText, _ string) (domain.NormalizedQuery, error) {
	f.calls++
	f.kinds = append(f.kinds, kind)
	if f.err != nil {
		return domain.NormalizedQuery{}, f.err
	}
	q := f.q
	if q.CleanText == "" {
		q.CleanText = rawText
	}
	return q, nil
}

type fakeCache struct {
	entries map[string]domain.NormalizedQuery
	ttl     time.Duration
}

func (f *fakeCache) Get(_ context.Context, key string) (domain.NormalizedQuery, bool, error) {
	q, ok := f.entries[key]
	return q, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, q domain.NormalizedQuery, ttl time.Duration) error {
	if f.entries == nil {
		f.entries = make(map[string]domain.NormalizedQuery)
	}
	f.entries[key] = q
	f.ttl = ttl
	return nil
}

type fakeEmbedder struct {
	err   error
	query string
	texts [][]string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.query = text
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeVectorIndex struct {
	hits    []domain.VectorHit
	err     error
	limit   int
	filter  domain.SearchFilter
	upserts []domain.FoundItem
}

func (f *fakeVectorIndex) Upsert(_ context.Context, items []domain.FoundItem, vectors [][]float32) error {
	if len(items) != len(vectors) {
		return errors.New("length mismatch")
	}
	f.upserts = append(f.upserts, items...)
	return nil
}

func (f *fakeVectorIndex) Search(_ context.Context, _ []float32, limit int, filter domain.SearchFilter) ([]domain.VectorHit, error) {
	f.limit = limit
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

type fakeKeywordIndex struct {
	mu     sync.Mutex
	hits   []domain.KeywordHit
	err    error
	tokens []string
	calls  int
}

func (f *fakeKeywordIndex) SearchText(_ context.Context, tokens []string, _ int, _ domain.SearchFilter) ([]domain.KeywordHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tokens = tokens
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeItemStore struct {
	unavailable bool
	items       map[string]domain.FoundItem
	getErr      error
	saved       map[string][]string
	getCalls    int
}

func (f *fakeItemStore) Available() bool { return !f.unavailable }

func (f *fakeItemStore) GetItems(_ context.Context, ids []string) (map[string]domain.FoundItem, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make(map[string]domain.FoundItem)
	for _, id := range ids {
		if item, ok := f.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (f *fakeItemStore) sortedIDs(afterID string, pred func(domain.FoundItem) bool) []string {
	ids := make([]string, 0, len(f.items))
	for id, item := range f.items {
		if id > afterID && pred(item) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeItemStore) page(ids []string, limit int) []domain.FoundItem {
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.FoundItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.items[id])
	}
	return out
}

func (f *fakeItemStore) ListUnprocessed(_ context.Context, afterID string, limit int) ([]domain.FoundItem, error) {
	ids := f.sortedIDs(afterID, func(item domain.FoundItem) bool { return item.ExtractedAt == nil })
	return f.page(ids, limit), nil
}

func (f *fakeItemStore) ListAll(_ context.Context, afterID string, limit int) ([]domain.FoundItem, error) {
	ids := f.sortedIDs(afterID, func(domain.FoundItem) bool { return true })
	return f.page(ids, limit), nil
}

func (f *fakeItemStore) SaveAttributes(_ context.Context, id string, attrs domain.Attributes, tokens []string) error {
	if f.saved == nil {
		f.saved = make(map[string][]string)
	}
	f.saved[id] = tokens
	item := f.items[id]
	now := time.Now()
	item.Attributes = attrs
	item.SearchableTokens = tokens
	item.ExtractedAt = &now
	f.items[id] = item
	return nil
}

type fakeFeedbackStore struct {
	unavailable   bool
	mu            sync.Mutex
	impressions   []domain.Impression
	selections    []domain.Selection
	pairs         []domain.SelectedImpression
	verifications map[domain.VerificationKey]bool
	insertErr     error
}

func (f *fakeFeedbackStore) Available() bool { return !f.unavailable }

func (f *fakeFeedbackStore) InsertImpression(_ context.Context, imp domain.Impression) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.impressions = append(f.impressions, imp)
	return nil
}

func (f *fakeFeedbackStore) InsertSelection(_ context.Context, sel domain.Selection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.selections = append(f.selections, sel)
	return nil
}

func (f *fakeFeedbackStore) ListSelectedImpressions(context.Context, time.Time, time.Time) ([]domain.SelectedImpression, error) {
	return f.pairs, nil
}

func (f *fakeFeedbackStore) ListVerifications(context.Context, []string) (map[domain.VerificationKey]bool, error) {
	return f.verifications, nil
}

func (f *fakeFeedbackStore) impressionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.impressions)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []domain.Impression
	err       error
}

func (f *fakePublisher) PublishImpression(_ context.Context, imp domain.Impression) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, imp)
	return nil
}

type fakeLearned struct {
	version string
	err     error
	calls   int
}

func (f *fakeLearned) Predict(_ context.Context, rows [][]float64) ([]float64, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		// Reverses the retrieval order so the learned path is visible.
		out[i] = row[10] / 100
	}
	return out, f.version, nil
}

type fakeModelStore struct {
	artifacts map[string][]byte
	current   string
	order     []string
}

func (f *fakeModelStore) SaveArtifact(_ context.Context, version string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.artifacts == nil {
		f.artifacts = make(map[string][]byte)
	}
	f.artifacts[version] = raw
	f.order = append(f.order, "save:"+version)
	return nil
}

func (f *fakeModelStore) OpenArtifact(_ context.Context, version string) (io.ReadCloser, error) {
	raw, ok := f.artifacts[version]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *fakeModelStore) CurrentVersion(context.Context) (string, error) {
	return f.current, nil
}

func (f *fakeModelStore) SetCurrentVersion(_ context.Context, version string) error {
	f.current = version
	f.order = append(f.order, "pointer:"+version)
	return nil
}

type fakeExporter struct {
	path string
	rows int
}

func (f *fakeExporter) Export(ds *domain.Dataset, path string) error {
	f.path = path
	f.rows = len(ds.Rows)
	return nil
}
