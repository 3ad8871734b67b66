package ranking

import (
	"math"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

const (
	weightSemantic = 0.40
	weightKeyword  = 0.20
	weightAttr     = 0.25
	weightIDBonus  = 0.15

	identifierMissPenalty = 0.50
	contradictionCap      = 0.50
	unknownFoundFactor    = 0.3
	neutralAttributeScore = 0.5
)

type attributeWeight struct {
	name   string
	weight float64
	get    func(domain.Attributes) string
}

var attributeWeights = []attributeWeight{
	{name: "color", weight: 0.30, get: func(a domain.Attributes) string { return a.Color }},
	{name: "brand", weight: 0.30, get: func(a domain.Attributes) string { return a.Brand }},
	{name: "model", weight: 0.25, get: func(a domain.Attributes) string { return a.Model }},
	{name: "material", weight: 0.15, get: func(a domain.Attributes) string { return a.Material }},
}

// AttributeScore compares raw attributes. Only attributes the query states
// count; an unknown found side earns 0.3 of the weight. Returns 0.5 when the
// query states nothing comparable.
func AttributeScore(query, found domain.Attributes) float64 {
	var total, matched float64
	for _, aw := range attributeWeights {
		qv := aw.get(query)
		if !specified(qv) {
			continue
		}
		total += aw.weight

		fv := aw.get(found)
		if !specified(fv) {
			matched += unknownFoundFactor * aw.weight
			continue
		}
		matched += matchLevel(Similarity(qv, fv)) * aw.weight
	}
	if total == 0 {
		return neutralAttributeScore
	}
	return matched / total
}

// IdentifierResult is the outcome of matching must-match tokens.
type IdentifierResult struct {
	Ratio   float64
	Bonus   float64
	Penalty float64
}

// IdentifierScore checks the query's must-match tokens against the found
// text. A query that names identifiers none of which occur is penalized.
func IdentifierScore(tokens []string, foundText string) IdentifierResult {
	tokens = cleanTokens(tokens)
	if len(tokens) == 0 {
		return IdentifierResult{}
	}

	hits := 0
	for _, tok := range tokens {
		if TokenPresent(tok, foundText) {
			hits++
		}
	}
	ratio := float64(hits) / float64(len(tokens))
	res := IdentifierResult{Ratio: ratio, Bonus: identifierBonus(ratio)}
	if hits == 0 {
		res.Penalty = identifierMissPenalty
	}
	return res
}

func identifierBonus(ratio float64) float64 {
	switch {
	case ratio >= 1:
		return 1
	case ratio > 0:
		return 0.5 * ratio
	default:
		return 0
	}
}

// ContradictionPenalty adds up explicit disagreements between stated
// attributes, capped at 0.5.
func ContradictionPenalty(query, found domain.Attributes) float64 {
	penalty := 0.0
	if contradicts(query.Color, found.Color) {
		penalty += 0.15
	}
	if contradicts(query.Brand, found.Brand) {
		penalty += 0.20
	}
	if contradicts(query.Model, found.Model) {
		penalty += 0.10
	}
	return math.Min(penalty, contradictionCap)
}

func contradicts(a, b string) bool {
	return specified(a) && specified(b) && Similarity(a, b) < contradictionThreshold
}

// FinalScore is the rule-based score in [0,1], rounded to 4 decimals.
func FinalScore(f domain.FeatureVector) float64 {
	score := weightSemantic*f.SemanticSim +
		weightKeyword*f.BM25ScoreNorm +
		weightAttr*featureAttributeScore(f) +
		weightIDBonus*identifierBonus(f.IdentifierMatchRatio) -
		f.IDPenalty -
		f.ContradictionScore
	return round4(clamp(score, 0, 1))
}

// featureAttributeScore is the weighted average of comparable attribute
// features, 0.5 when none is comparable.
func featureAttributeScore(f domain.FeatureVector) float64 {
	values := []float64{f.AttrColorMatch, f.AttrBrandMatch, f.AttrModelMatch, f.AttrMaterialMatch}
	var num, den float64
	for i, v := range values {
		if v == AttrNotComparable {
			continue
		}
		num += attributeWeights[i].weight * v
		den += attributeWeights[i].weight
	}
	if den == 0 {
		return neutralAttributeScore
	}
	return num / den
}

// RuleBased scores feature vectors with FinalScore.
type RuleBased struct{}

func (RuleBased) Version() string { return domain.RuleBasedModelVersion }

func (RuleBased) Score(features []domain.FeatureVector) []float64 {
	out := make([]float64, len(features))
	for i, f := range features {
		out[i] = FinalScore(f)
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
