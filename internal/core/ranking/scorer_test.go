package ranking

import (
	"math"
	"testing"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "case and space insensitive", a: "Black ", b: "black", want: 1},
		{name: "empty side", a: "", b: "black", want: 0},
		{name: "unknown is absent", a: "unknown", b: "unknown", want: 0},
		{name: "one edit", a: "black", b: "blak", want: 0.8},
		{name: "grey gray", a: "grey", b: "gray", want: 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); !almostEqual(got, tt.want) {
				t.Fatalf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestAttributeMatchLevels(t *testing.T) {
	if got := AttributeMatch("black", "Black"); got != AttrMatch {
		t.Fatalf("expected match, got %v", got)
	}
	if got := AttributeMatch("grey", "gray"); got != AttrPartial {
		t.Fatalf("expected partial, got %v", got)
	}
	if got := AttributeMatch("black", "white"); got != AttrMismatch {
		t.Fatalf("expected mismatch, got %v", got)
	}
	if got := AttributeMatch("black", ""); got != AttrNotComparable {
		t.Fatalf("expected not comparable, got %v", got)
	}
}

func TestAttributeScoreUnknownFoundSide(t *testing.T) {
	query := domain.Attributes{Color: "black", Brand: "apple"}
	found := domain.Attributes{Color: "black"}

	got := AttributeScore(query, found)
	want := (0.30 + 0.3*0.30) / 0.60
	if !almostEqual(got, want) {
		t.Fatalf("AttributeScore() = %v, want %v", got, want)
	}
}

func TestAttributeScoreNeutralWhenQueryStatesNothing(t *testing.T) {
	got := AttributeScore(domain.Attributes{Size: "small"}, domain.Attributes{Color: "red"})
	if got != 0.5 {
		t.Fatalf("expected neutral 0.5, got %v", got)
	}
}

func TestAttributeScoreBounds(t *testing.T) {
	pairs := [][2]domain.Attributes{
		{{Color: "black", Brand: "apple", Model: "x", Material: "leather"}, {Color: "black", Brand: "apple", Model: "x", Material: "leather"}},
		{{Color: "black", Brand: "apple"}, {Color: "white", Brand: "samsung"}},
		{{Material: "leather"}, {}},
	}
	for _, p := range pairs {
		got := AttributeScore(p[0], p[1])
		if got < 0 || got > 1 {
			t.Fatalf("AttributeScore out of bounds: %v", got)
		}
	}
}

func TestIdentifierScore(t *testing.T) {
	full := IdentifierScore([]string{"SN12345"}, "phone with serial SN12345")
	if full.Ratio != 1 || full.Bonus != 1 || full.Penalty != 0 {
		t.Fatalf("unexpected full match result: %+v", full)
	}

	partial := IdentifierScore([]string{"SN12345", "IMEI999"}, "sn12345 only")
	if partial.Ratio != 0.5 || partial.Bonus != 0.25 || partial.Penalty != 0 {
		t.Fatalf("unexpected partial result: %+v", partial)
	}

	miss := IdentifierScore([]string{"SN12345"}, "brown leather wallet")
	if miss.Ratio != 0 || miss.Bonus != 0 || miss.Penalty != 0.5 {
		t.Fatalf("unexpected miss result: %+v", miss)
	}

	none := IdentifierScore(nil, "anything")
	if none != (IdentifierResult{}) {
		t.Fatalf("expected zero result without tokens, got %+v", none)
	}
}

func TestIdentifierScoreFuzzyChunk(t *testing.T) {
	res := IdentifierScore([]string{"AB1234567890"}, "tag AB1234567891 attached")
	if res.Ratio != 1 {
		t.Fatalf("expected fuzzy chunk hit, got %+v", res)
	}
}

func TestContradictionPenalty(t *testing.T) {
	query := domain.Attributes{Color: "black", Brand: "apple", Model: "iphone 12"}
	found := domain.Attributes{Color: "white", Brand: "samsung", Model: "iphone 13"}

	got := ContradictionPenalty(query, found)
	if !almostEqual(got, 0.35) {
		t.Fatalf("ContradictionPenalty() = %v, want 0.35", got)
	}
	if got := ContradictionPenalty(query, domain.Attributes{}); got != 0 {
		t.Fatalf("expected no penalty when found side is empty, got %v", got)
	}
}

func TestFinalScoreBounds(t *testing.T) {
	best := domain.FeatureVector{
		SemanticSim:          1,
		BM25ScoreNorm:        1,
		AttrColorMatch:       1,
		AttrBrandMatch:       1,
		AttrModelMatch:       1,
		AttrMaterialMatch:    1,
		IdentifierMatchRatio: 1,
	}
	if got := FinalScore(best); got != 1 {
		t.Fatalf("expected max score 1, got %v", got)
	}

	worst := domain.FeatureVector{
		AttrColorMatch:     AttrNotComparable,
		AttrBrandMatch:     AttrNotComparable,
		AttrModelMatch:     AttrNotComparable,
		AttrMaterialMatch:  AttrNotComparable,
		ContradictionScore: 0.45,
		IDPenalty:          0.5,
	}
	if got := FinalScore(worst); got != 0 {
		t.Fatalf("expected clamped score 0, got %v", got)
	}
}

func TestFinalScoreNeutralAttributesAndRounding(t *testing.T) {
	f := domain.FeatureVector{
		SemanticSim:       0.8,
		BM25ScoreNorm:     0.123456,
		AttrColorMatch:    AttrNotComparable,
		AttrBrandMatch:    AttrNotComparable,
		AttrModelMatch:    AttrNotComparable,
		AttrMaterialMatch: AttrNotComparable,
	}
	// 0.32 + 0.0246912 + 0.125
	if got := FinalScore(f); got != 0.4697 {
		t.Fatalf("FinalScore() = %v, want 0.4697", got)
	}
}

func TestRuleBasedScoreVersion(t *testing.T) {
	scorer := RuleBased{}
	if scorer.Version() != "rule_based_v1" {
		t.Fatalf("unexpected version %q", scorer.Version())
	}
	scores := scorer.Score([]domain.FeatureVector{{SemanticSim: 1}, {}})
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
}
