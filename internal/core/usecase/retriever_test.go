package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

func TestMergeCandidatesDeduplicates(t *testing.T) {
	vector := []domain.VectorHit{
		{ID: "a", Description: "black wallet", Cosine: 0.9},
		{ID: "b", Description: "brown wallet", Cosine: 0.7},
	}
	keyword := []domain.KeywordHit{
		{ID: "b", Description: "brown wallet", TextScore: 12},
		{ID: "c", Description: "wallet with SN1", TextScore: 4},
		{ID: "c", Description: "wallet with SN1", TextScore: 3},
	}

	got := MergeCandidates(vector, keyword)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	if got[0].FoundID != "a" || got[1].FoundID != "b" || got[2].FoundID != "c" {
		t.Fatalf("unexpected order: %s %s %s", got[0].FoundID, got[1].FoundID, got[2].FoundID)
	}
	if got[1].Source != domain.SourceBoth || got[1].BM25Score != 12 || got[1].VectorScore != 0.7 {
		t.Fatalf("unexpected merged candidate: %+v", got[1])
	}
	if got[2].Source != domain.SourceKeyword || got[2].VectorScore != 0 || got[2].BM25Score != 4 {
		t.Fatalf("unexpected keyword candidate: %+v", got[2])
	}
	if got[0].Source != domain.SourceVector || got[0].BM25Score != 0 {
		t.Fatalf("unexpected vector candidate: %+v", got[0])
	}
}

func TestKeywordTokens(t *testing.T) {
	must := []string{"SN1", "sn1", "IMEI2"}
	keywords := []string{"wallet", "black", "leather", "cards", "coins", "zipper", "extra"}

	got := KeywordTokens(must, keywords)
	want := []string{"SN1", "IMEI2", "wallet", "black", "leather", "cards", "coins"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("KeywordTokens() = %v, want %v", got, want)
	}

	many := make([]string, 20)
	for i := range many {
		many[i] = fmt.Sprintf("id%d", i)
	}
	if got := KeywordTokens(many, keywords); len(got) != 15 {
		t.Fatalf("expected at most 15 tokens, got %d", len(got))
	}
}

func TestGetCandidatesKeywordFailureDegrades(t *testing.T) {
	vectors := &fakeVectorIndex{hits: []domain.VectorHit{{ID: "a", Cosine: 0.5}}}
	keywords := &fakeKeywordIndex{err: errors.New("fts down")}
	uc := NewRetrieverUseCase(&fakeEmbedder{}, vectors, keywords, 0)

	got, err := uc.GetCandidates(context.Background(), RetrievalRequest{
		Category:  " bags ",
		QueryText: "wallet",
		Keywords:  []string{"wallet"},
		TopVector: 5,
	})
	if err != nil {
		t.Fatalf("GetCandidates() error = %v", err)
	}
	if len(got) != 1 || got[0].FoundID != "a" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
	if vectors.limit != 5 || vectors.filter.Category != "bags" {
		t.Fatalf("unexpected vector call: limit=%d filter=%+v", vectors.limit, vectors.filter)
	}
}

func TestGetCandidatesVectorFailurePropagates(t *testing.T) {
	uc := NewRetrieverUseCase(&fakeEmbedder{err: errors.New("embed down")}, &fakeVectorIndex{}, &fakeKeywordIndex{}, 0)
	if _, err := uc.GetCandidates(context.Background(), RetrievalRequest{QueryText: "wallet"}); err == nil {
		t.Fatalf("expected vector error")
	}
}

func TestGetCandidatesSkipsKeywordWithoutTokens(t *testing.T) {
	keywords := &fakeKeywordIndex{hits: []domain.KeywordHit{{ID: "k"}}}
	uc := NewRetrieverUseCase(&fakeEmbedder{}, &fakeVectorIndex{}, keywords, 0)

	got, err := uc.GetCandidates(context.Background(), RetrievalRequest{QueryText: "something"})
	if err != nil {
		t.Fatalf("GetCandidates() error = %v", err)
	}
	if keywords.calls != 0 || len(got) != 0 {
		t.Fatalf("expected keyword search to be skipped, calls=%d candidates=%d", keywords.calls, len(got))
	}
}

type blockingKeywordIndex struct{}

func (blockingKeywordIndex) SearchText(ctx context.Context, _ []string, _ int, _ domain.SearchFilter) ([]domain.KeywordHit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGetCandidatesKeywordTimeoutKeepsVectorHits(t *testing.T) {
	vectors := &fakeVectorIndex{hits: []domain.VectorHit{{ID: "a", Cosine: 0.5}}}
	uc := NewRetrieverUseCase(&fakeEmbedder{}, vectors, blockingKeywordIndex{}, 50*time.Millisecond)

	start := time.Now()
	got, err := uc.GetCandidates(context.Background(), RetrievalRequest{
		QueryText: "wallet",
		Keywords:  []string{"wallet"},
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("GetCandidates() error = %v", err)
	}
	if len(got) != 1 || got[0].FoundID != "a" {
		t.Fatalf("expected vector hit only, got %+v", got)
	}
	if elapsed > time.Second {
		t.Fatalf("keyword timeout not enforced, took %s", elapsed)
	}
}

type offlineKeywordIndex struct {
	fakeKeywordIndex
}

func (*offlineKeywordIndex) Available() bool { return false }

func TestGetCandidatesSkipsUnavailableKeywordIndex(t *testing.T) {
	keywords := &offlineKeywordIndex{}
	vectors := &fakeVectorIndex{hits: []domain.VectorHit{{ID: "a", Cosine: 0.5}}}
	uc := NewRetrieverUseCase(&fakeEmbedder{}, vectors, keywords, 0)

	got, err := uc.GetCandidates(context.Background(), RetrievalRequest{QueryText: "wallet", Keywords: []string{"wallet"}})
	if err != nil {
		t.Fatalf("GetCandidates() error = %v", err)
	}
	if keywords.calls != 0 || len(got) != 1 {
		t.Fatalf("expected keyword index to be skipped, calls=%d candidates=%d", keywords.calls, len(got))
	}
}
