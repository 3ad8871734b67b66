package ranking

import (
	"math"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

const bm25NormDivisor = 20.0

// ComputeFeatures derives the feature vector of one query/candidate pair.
// InitialRank and CandidatePoolSize are left at 0 for the ranking pass.
func ComputeFeatures(q domain.NormalizedQuery, c domain.Candidate) domain.FeatureVector {
	found := c.Attributes
	id := IdentifierScore(q.MustMatchTokens, FoundText(c))

	queryWords := WordCount(q.CleanText)
	foundWords := WordCount(c.Description)

	f := domain.FeatureVector{
		SemanticSim:          clamp((c.VectorScore+1)/2, 0, 1),
		BM25ScoreNorm:        clamp(c.BM25Score/bm25NormDivisor, 0, 1),
		AttrColorMatch:       AttributeMatch(q.Attributes.Color, found.Color),
		AttrBrandMatch:       AttributeMatch(q.Attributes.Brand, found.Brand),
		AttrModelMatch:       AttributeMatch(q.Attributes.Model, found.Model),
		AttrMaterialMatch:    AttributeMatch(q.Attributes.Material, found.Material),
		IdentifierMatchRatio: id.Ratio,
		NMustMatchTokens:     float64(len(q.MustMatchTokens)),
		ContradictionScore:   ContradictionPenalty(q.Attributes, found),
		QueryNTokens:         float64(len(q.Keywords)),
		FoundNTokens:         float64(foundWords),
		QueryMissingFields:   float64(len(q.MissingFields)),
		LenRatio:             float64(queryWords) / math.Max(1, float64(foundWords)),
		IDPenalty:            id.Penalty,
	}
	if id.Bonus > 0 {
		f.IdentifierInFound = 1
	}
	return f
}

// CosineFromSemantic inverts the SemanticSim mapping.
func CosineFromSemantic(sim float64) float64 {
	return 2*sim - 1
}

// BM25FromNorm inverts the BM25ScoreNorm mapping (lossy above the cap).
func BM25FromNorm(norm float64) float64 {
	return norm * bm25NormDivisor
}
