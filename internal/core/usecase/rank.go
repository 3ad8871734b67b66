package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
	"github.com/kirillkom/lostfound-matcher/internal/core/ranking"
)

const defaultTopK = 10

type RankConfig struct {
	RolloutPct  float64
	TopVector   int
	TopKeyword  int
	DefaultTopK int
}

// RankUseCase runs normalize -> retrieve -> features -> score -> must-match
// and logs what was shown.
type RankUseCase struct {
	normalizer *NormalizeUseCase
	retriever  *RetrieverUseCase
	items      ports.FoundItemStore
	learned    ports.LearnedScorer
	feedback   *FeedbackUseCase
	cfg        RankConfig
	rules      ranking.RuleBased
}

func NewRankUseCase(
	normalizer *NormalizeUseCase,
	retriever *RetrieverUseCase,
	items ports.FoundItemStore,
	learned ports.LearnedScorer,
	feedback *FeedbackUseCase,
	cfg RankConfig,
) *RankUseCase {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = defaultTopK
	}
	return &RankUseCase{
		normalizer: normalizer,
		retriever:  retriever,
		items:      items,
		learned:    learned,
		feedback:   feedback,
		cfg:        cfg,
	}
}

func (uc *RankUseCase) InferenceRerank(ctx context.Context, req domain.RankRequest) (*domain.RankResult, error) {
	if req.TopK <= 0 {
		req.TopK = uc.cfg.DefaultTopK
	}
	q := uc.normalizer.Normalize(ctx, domain.KindLost, req.RawText, req.Category)
	result := &domain.RankResult{
		QueryID: uuid.NewString(),
		Variant: ranking.Variant(req.SessionID, uc.cfg.RolloutPct),
		Query:   q,
		Results: []domain.RankedResult{},
	}

	candidates, err := uc.retriever.GetCandidates(ctx, RetrievalRequest{
		Category:        req.Category,
		QueryText:       q.SearchText(req.RawText),
		MustMatchTokens: q.MustMatchTokens,
		Keywords:        q.Keywords,
		TopVector:       uc.cfg.TopVector,
		TopKeyword:      uc.cfg.TopKeyword,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}
	result.CandidatePoolSize = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	uc.enrich(ctx, candidates)
	for i := range candidates {
		f := ranking.ComputeFeatures(q, candidates[i])
		f.InitialRank = float64(i + 1)
		f.CandidatePoolSize = float64(len(candidates))
		candidates[i].Features = f
	}

	result.Variant = uc.score(ctx, result.Variant, candidates)
	ranked := ranking.ApplyMustMatch(q.MustMatchTokens, candidates)
	if len(ranked) > req.TopK {
		ranked = ranked[:req.TopK]
	}

	for i, c := range ranked {
		result.Results = append(result.Results, domain.RankedResult{
			FoundID:        c.FoundID,
			Description:    c.Description,
			Category:       c.Category,
			Rank:           i + 1,
			Score:          c.Score,
			Source:         c.Source,
			ScoreBreakdown: c.Features.Breakdown(),
			ModelVersion:   c.ModelVersion,
		})
	}

	if uc.feedback != nil {
		result.ImpressionID = uc.feedback.LogImpression(ctx, ImpressionInput{
			QueryID:   result.QueryID,
			RawText:   req.RawText,
			Category:  req.Category,
			SessionID: req.SessionID,
			Query:     q,
			Results:   result.Results,
		})
	}
	return result, nil
}

// enrich attaches stored attributes in one batch read. Failures leave the
// candidates without attributes.
func (uc *RankUseCase) enrich(ctx context.Context, candidates []domain.Candidate) {
	if uc.items == nil || !uc.items.Available() {
		return
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.FoundID
	}
	items, err := uc.items.GetItems(ctx, ids)
	if err != nil {
		slog.Warn("candidate_attributes_fetch_failed", "candidates", len(ids), "error", err)
		return
	}
	for i := range candidates {
		item, ok := items[candidates[i].FoundID]
		if !ok {
			continue
		}
		candidates[i].Attributes = item.Attributes
		candidates[i].SearchableTokens = item.SearchableTokens
		if candidates[i].Description == "" {
			candidates[i].Description = item.Description
		}
		if candidates[i].Category == "" {
			candidates[i].Category = item.Category
		}
	}
}

// score sets Score and ModelVersion on every candidate and returns the variant
// actually used.
func (uc *RankUseCase) score(ctx context.Context, variant domain.Variant, candidates []domain.Candidate) domain.Variant {
	if variant == domain.VariantLearned && uc.learned != nil {
		rows := make([][]float64, len(candidates))
		for i, c := range candidates {
			rows[i] = c.Features.Values()
		}
		scores, version, err := uc.learned.Predict(ctx, rows)
		if err == nil {
			for i := range candidates {
				candidates[i].Score = roundScore(scores[i])
				candidates[i].ModelVersion = version
			}
			return domain.VariantLearned
		}
		slog.Warn("learned_ranker_fallback", "candidates", len(candidates), "error", err)
	}

	features := make([]domain.FeatureVector, len(candidates))
	for i, c := range candidates {
		features[i] = c.Features
	}
	for i, s := range uc.rules.Score(features) {
		candidates[i].Score = s
		candidates[i].ModelVersion = uc.rules.Version()
	}
	return domain.VariantRuleBased
}

func roundScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Round(math.Max(0, math.Min(1, v))*1e4) / 1e4
}
