package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
)

const defaultReindexBatch = 64

// ReindexUseCase re-embeds every stored found item into the vector index.
type ReindexUseCase struct {
	items    ports.FoundItemStore
	embedder ports.Embedder
	index    ports.VectorIndex
	batch    int
}

func NewReindexUseCase(items ports.FoundItemStore, embedder ports.Embedder, index ports.VectorIndex, batch int) *ReindexUseCase {
	if batch <= 0 {
		batch = defaultReindexBatch
	}
	return &ReindexUseCase{items: items, embedder: embedder, index: index, batch: batch}
}

func (uc *ReindexUseCase) Run(ctx context.Context) (int, error) {
	if uc.items == nil || !uc.items.Available() {
		return 0, domain.WrapError(domain.ErrStoreUnavailable, "reindex", fmt.Errorf("found item store not connected"))
	}

	indexed := 0
	afterID := ""
	for {
		page, err := uc.items.ListAll(ctx, afterID, uc.batch)
		if err != nil {
			return indexed, fmt.Errorf("list found items: %w", err)
		}
		if len(page) == 0 {
			return indexed, nil
		}

		texts := make([]string, len(page))
		for i, item := range page {
			texts[i] = item.Description
		}
		vectors, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed found items: %w", err)
		}
		if err := uc.index.Upsert(ctx, page, vectors); err != nil {
			return indexed, fmt.Errorf("upsert vectors: %w", err)
		}
		indexed += len(page)
		afterID = page[len(page)-1].ID
		slog.Info("reindex_progress", "indexed", indexed, "last_id", afterID)
	}
}
