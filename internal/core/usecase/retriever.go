package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
)

const (
	maxKeywordTerms      = 5
	maxKeywordTokens     = 15
	defaultTopVector     = 50
	defaultTopKeyword    = 50
	defaultKeywordBudget = 2 * time.Second
)

type RetrievalRequest struct {
	Category        string
	QueryText       string
	MustMatchTokens []string
	Keywords        []string
	TopVector       int
	TopKeyword      int
}

// RetrieverUseCase gathers candidates from the vector and keyword indexes.
type RetrieverUseCase struct {
	embedder       ports.Embedder
	vectors        ports.VectorIndex
	keywords       ports.KeywordIndex
	keywordTimeout time.Duration
}

func NewRetrieverUseCase(
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	keywords ports.KeywordIndex,
	keywordTimeout time.Duration,
) *RetrieverUseCase {
	if keywordTimeout <= 0 {
		keywordTimeout = defaultKeywordBudget
	}
	return &RetrieverUseCase{
		embedder:       embedder,
		vectors:        vectors,
		keywords:       keywords,
		keywordTimeout: keywordTimeout,
	}
}

// GetCandidates runs both lookups concurrently and merges them. Vector errors
// are returned; keyword errors degrade to no keyword hits.
func (uc *RetrieverUseCase) GetCandidates(ctx context.Context, req RetrievalRequest) ([]domain.Candidate, error) {
	if req.TopVector <= 0 {
		req.TopVector = defaultTopVector
	}
	if req.TopKeyword <= 0 {
		req.TopKeyword = defaultTopKeyword
	}
	filter := domain.SearchFilter{Category: strings.TrimSpace(req.Category)}

	var vectorHits []domain.VectorHit
	var keywordHits []domain.KeywordHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := uc.embedder.EmbedQuery(gctx, req.QueryText)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		hits, err := uc.vectors.Search(gctx, vec, req.TopVector, filter)
		if err != nil {
			return fmt.Errorf("search vector index: %w", err)
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		keywordHits = uc.keywordSearch(gctx, KeywordTokens(req.MustMatchTokens, req.Keywords), req.TopKeyword, filter)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return MergeCandidates(vectorHits, keywordHits), nil
}

func (uc *RetrieverUseCase) keywordSearch(ctx context.Context, tokens []string, limit int, filter domain.SearchFilter) []domain.KeywordHit {
	if uc.keywords == nil || len(tokens) == 0 {
		return nil
	}
	if a, ok := uc.keywords.(interface{ Available() bool }); ok && !a.Available() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, uc.keywordTimeout)
	defer cancel()

	hits, err := uc.keywords.SearchText(ctx, tokens, limit, filter)
	if err != nil {
		slog.Warn("keyword_search_failed", "tokens", len(tokens), "error", err)
		return nil
	}
	return hits
}

// KeywordTokens builds the keyword search terms: all must-match tokens, then
// the first five keywords, at most 15 distinct tokens.
func KeywordTokens(mustMatch, keywords []string) []string {
	out := make([]string, 0, maxKeywordTokens)
	seen := make(map[string]struct{})
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		key := strings.ToLower(tok)
		if tok == "" || len(out) >= maxKeywordTokens {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, tok)
	}
	for _, tok := range mustMatch {
		add(tok)
	}
	for i, tok := range keywords {
		if i >= maxKeywordTerms {
			break
		}
		add(tok)
	}
	return out
}

// MergeCandidates deduplicates by found id. Vector hits keep their order;
// keyword hits already present only contribute their text score.
func MergeCandidates(vectorHits []domain.VectorHit, keywordHits []domain.KeywordHit) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(vectorHits)+len(keywordHits))
	index := make(map[string]int, cap(out))

	for _, hit := range vectorHits {
		if _, ok := index[hit.ID]; ok || hit.ID == "" {
			continue
		}
		index[hit.ID] = len(out)
		out = append(out, domain.Candidate{
			FoundID:     hit.ID,
			Description: hit.Description,
			Category:    hit.Category,
			VectorScore: hit.Cosine,
			Source:      domain.SourceVector,
		})
	}
	for _, hit := range keywordHits {
		if hit.ID == "" {
			continue
		}
		if i, ok := index[hit.ID]; ok {
			if out[i].Source == domain.SourceVector {
				out[i].BM25Score = hit.TextScore
				out[i].Source = domain.SourceBoth
			}
			continue
		}
		index[hit.ID] = len(out)
		out = append(out, domain.Candidate{
			FoundID:     hit.ID,
			Description: hit.Description,
			Category:    hit.Category,
			BM25Score:   hit.TextScore,
			Source:      domain.SourceKeyword,
		})
	}
	return out
}
