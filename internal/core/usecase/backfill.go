package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
)

const defaultBackfillBatch = 100

type BackfillReport struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// BackfillUseCase extracts attributes for found items that were stored
// without them.
type BackfillUseCase struct {
	items      ports.FoundItemStore
	normalizer ports.QueryNormalizer
	limiter    *rate.Limiter
	batch      int
}

func NewBackfillUseCase(items ports.FoundItemStore, normalizer ports.QueryNormalizer, rps float64, batch int) *BackfillUseCase {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if batch <= 0 {
		batch = defaultBackfillBatch
	}
	return &BackfillUseCase{
		items:      items,
		normalizer: normalizer,
		limiter:    rate.NewLimiter(limit, 1),
		batch:      batch,
	}
}

// Run processes up to maxItems items (0 means all). Items the normalizer
// fails on are skipped and stay unprocessed.
func (uc *BackfillUseCase) Run(ctx context.Context, maxItems int) (BackfillReport, error) {
	var report BackfillReport
	if uc.items == nil || !uc.items.Available() {
		return report, domain.WrapError(domain.ErrStoreUnavailable, "backfill", fmt.Errorf("found item store not connected"))
	}

	afterID := ""
	for {
		page, err := uc.items.ListUnprocessed(ctx, afterID, uc.batch)
		if err != nil {
			return report, fmt.Errorf("list unprocessed items: %w", err)
		}
		if len(page) == 0 {
			return report, nil
		}
		for _, item := range page {
			if maxItems > 0 && report.Processed+report.Failed >= maxItems {
				return report, nil
			}
			if err := uc.limiter.Wait(ctx); err != nil {
				return report, err
			}
			if err := uc.process(ctx, item); err != nil {
				report.Failed++
				slog.Warn("backfill_item_failed", "found_id", item.ID, "error", err)
				continue
			}
			report.Processed++
		}
		afterID = page[len(page)-1].ID
	}
}

func (uc *BackfillUseCase) process(ctx context.Context, item domain.FoundItem) error {
	q, err := uc.normalizer.Normalize(ctx, domain.KindFound, item.Description, item.Category)
	if err != nil {
		return err
	}
	return uc.items.SaveAttributes(ctx, item.ID, q.Attributes, SearchableTokens(q))
}

// SearchableTokens are the identifier values and must-match tokens of a
// normalized found-item description, deduplicated case-insensitively.
func SearchableTokens(q domain.NormalizedQuery) []string {
	out := make([]string, 0, len(q.Attributes.Identifiers)+len(q.MustMatchTokens))
	seen := make(map[string]struct{})
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		key := strings.ToLower(tok)
		if tok == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, tok)
	}
	for _, id := range q.Attributes.Identifiers {
		add(id.Value)
	}
	for _, tok := range q.MustMatchTokens {
		add(tok)
	}
	return out
}
