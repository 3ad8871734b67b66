package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
	"github.com/kirillkom/lostfound-matcher/internal/core/ranking"
)

const (
	legacyModelVersion  = "legacy_v1"
	legacySemanticShare = 0.6
	maxSearchLimit      = 50
)

// SearchUseCase serves /search: the ranking pipeline first, the legacy
// vector + attribute path when the pipeline fails.
type SearchUseCase struct {
	ranker     ports.Ranker
	normalizer *NormalizeUseCase
	embedder   ports.Embedder
	vectors    ports.VectorIndex
	items      ports.FoundItemStore
}

func NewSearchUseCase(
	ranker ports.Ranker,
	normalizer *NormalizeUseCase,
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	items ports.FoundItemStore,
) *SearchUseCase {
	return &SearchUseCase{
		ranker:     ranker,
		normalizer: normalizer,
		embedder:   embedder,
		vectors:    vectors,
		items:      items,
	}
}

func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("text is required"))
	}
	if req.Limit > maxSearchLimit {
		req.Limit = maxSearchLimit
	}

	result, err := uc.ranker.InferenceRerank(ctx, domain.RankRequest{
		RawText:   req.Text,
		Category:  req.Category,
		SessionID: req.SessionID,
		TopK:      req.Limit,
	})
	if err == nil {
		resp := &domain.SearchResponse{
			Matches:           make([]domain.Match, 0, len(result.Results)),
			InferredContext:   result.Query.InferredContext(),
			QueryID:           result.QueryID,
			ImpressionID:      result.ImpressionID,
			Variant:           result.Variant,
			CandidatePoolSize: result.CandidatePoolSize,
		}
		for _, r := range result.Results {
			resp.Matches = append(resp.Matches, domain.Match{
				ID:             r.FoundID,
				Description:    r.Description,
				Category:       r.Category,
				Score:          r.Score,
				Reason:         matchReason(domain.FeatureVectorFromBreakdown(r.ScoreBreakdown)),
				ScoreBreakdown: r.ScoreBreakdown,
				ModelVersion:   r.ModelVersion,
			})
		}
		resp.TotalMatches = len(resp.Matches)
		return resp, nil
	}

	slog.Warn("search_pipeline_failed_using_legacy", "error", err)
	matches, q, legacyErr := uc.LegacyMatch(ctx, domain.RankRequest{RawText: req.Text, Category: req.Category, TopK: req.Limit})
	if legacyErr != nil {
		slog.Error("legacy_search_failed", "error", legacyErr)
	}
	resp := &domain.SearchResponse{
		Matches:         make([]domain.Match, 0, len(matches)),
		InferredContext: q.InferredContext(),
		Variant:         domain.VariantRuleBased,
		Legacy:          true,
	}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, domain.Match{
			ID:          m.FoundID,
			Description: m.Description,
			Category:    m.Category,
			Score:       m.Score,
			Reason:      "similar description",
		})
	}
	resp.TotalMatches = len(resp.Matches)
	return resp, nil
}

// LegacyMatch is vector retrieval blended with the raw attribute score.
func (uc *SearchUseCase) LegacyMatch(ctx context.Context, req domain.RankRequest) ([]domain.RankedResult, domain.NormalizedQuery, error) {
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	q := PassthroughQuery(req.RawText)
	if uc.normalizer != nil {
		q = uc.normalizer.Normalize(ctx, domain.KindLost, req.RawText, req.Category)
	}

	vec, err := uc.embedder.EmbedQuery(ctx, q.SearchText(req.RawText))
	if err != nil {
		return nil, q, fmt.Errorf("embed query: %w", err)
	}
	hits, err := uc.vectors.Search(ctx, vec, req.TopK*2, domain.SearchFilter{Category: req.Category})
	if err != nil {
		return nil, q, fmt.Errorf("search vector index: %w", err)
	}

	var items map[string]domain.FoundItem
	if uc.items != nil && uc.items.Available() && len(hits) > 0 {
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		if items, err = uc.items.GetItems(ctx, ids); err != nil {
			slog.Warn("legacy_attributes_fetch_failed", "error", err)
		}
	}

	out := make([]domain.RankedResult, 0, len(hits))
	for _, h := range hits {
		semantic := (h.Cosine + 1) / 2
		attr := ranking.AttributeScore(q.Attributes, items[h.ID].Attributes)
		score := legacySemanticShare*semantic + (1-legacySemanticShare)*attr
		out = append(out, domain.RankedResult{
			FoundID:      h.ID,
			Description:  h.Description,
			Category:     h.Category,
			Score:        roundScore(score),
			Source:       domain.SourceVector,
			ModelVersion: legacyModelVersion,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > req.TopK {
		out = out[:req.TopK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, q, nil
}

// matchReason explains a score in a few words for end users.
func matchReason(f domain.FeatureVector) string {
	reasons := make([]string, 0, 4)
	if f.IdentifierMatchRatio >= 1 {
		reasons = append(reasons, "identifier match")
	} else if f.IdentifierMatchRatio > 0 {
		reasons = append(reasons, "partial identifier match")
	}
	attrs := []struct {
		name  string
		value float64
	}{
		{"brand", f.AttrBrandMatch},
		{"model", f.AttrModelMatch},
		{"color", f.AttrColorMatch},
		{"material", f.AttrMaterialMatch},
	}
	for _, a := range attrs {
		if a.value == ranking.AttrMatch {
			reasons = append(reasons, a.name+" match")
		}
	}
	if f.ContradictionScore > 0 {
		reasons = append(reasons, "conflicting details")
	}
	if len(reasons) == 0 {
		if f.SemanticSim >= 0.75 {
			return "very similar description"
		}
		return "similar description"
	}
	return strings.Join(reasons, ", ")
}
