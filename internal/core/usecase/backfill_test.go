package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

type selectiveNormalizer struct {
	failFor map[string]bool
	calls   int
}

func (n *selectiveNormalizer) Normalize(_ context.Context, kind domain.NormalizeKind, raw, _ string) (domain.NormalizedQuery, error) {
	n.calls++
	if kind != domain.KindFound {
		return domain.NormalizedQuery{}, errors.New("unexpected kind")
	}
	if n.failFor[raw] {
		return domain.NormalizedQuery{}, errors.New("llm timeout")
	}
	return domain.NormalizedQuery{
		CleanText:       raw,
		Attributes:      domain.Attributes{Color: "black", Identifiers: []domain.Identifier{{Type: "serial", Value: "SN-" + raw}}},
		MustMatchTokens: []string{"sn-" + raw, "TAG9"},
	}, nil
}

func TestBackfillProcessesAndSkipsFailures(t *testing.T) {
	done := time.Now()
	items := &fakeItemStore{items: map[string]domain.FoundItem{
		"a": {ID: "a", Description: "a"},
		"b": {ID: "b", Description: "b"},
		"c": {ID: "c", Description: "c", ExtractedAt: &done},
		"d": {ID: "d", Description: "d"},
	}}
	norm := &selectiveNormalizer{failFor: map[string]bool{"b": true}}

	report, err := NewBackfillUseCase(items, norm, 0, 1).Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Processed != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if items.items["a"].Attributes.Color != "black" || items.items["b"].ExtractedAt != nil {
		t.Fatalf("unexpected item state: %+v", items.items)
	}
	if got := items.saved["d"]; len(got) != 2 || got[0] != "SN-d" || got[1] != "TAG9" {
		t.Fatalf("unexpected searchable tokens: %v", got)
	}
}

func TestBackfillHonorsMaxItems(t *testing.T) {
	items := &fakeItemStore{items: map[string]domain.FoundItem{
		"a": {ID: "a", Description: "a"},
		"b": {ID: "b", Description: "b"},
		"c": {ID: "c", Description: "c"},
	}}
	norm := &selectiveNormalizer{}
	report, err := NewBackfillUseCase(items, norm, 1000, 10).Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Processed != 2 || norm.calls != 2 {
		t.Fatalf("expected 2 items processed, got %+v (calls=%d)", report, norm.calls)
	}
}

func TestBackfillStoreUnavailable(t *testing.T) {
	_, err := NewBackfillUseCase(&fakeItemStore{unavailable: true}, &selectiveNormalizer{}, 0, 0).Run(context.Background(), 0)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSearchableTokensDeduplicates(t *testing.T) {
	q := domain.NormalizedQuery{
		Attributes:      domain.Attributes{Identifiers: []domain.Identifier{{Value: "AB123"}, {Value: ""}}},
		MustMatchTokens: []string{"ab123", " CD456 "},
	}
	got := SearchableTokens(q)
	if len(got) != 2 || got[0] != "AB123" || got[1] != "CD456" {
		t.Fatalf("unexpected tokens: %v", got)
	}
}
