package domain

import "strings"

// FeatureSchemaVersion versions FeatureNames. Serving, training and model
// artifacts must agree on it.
const FeatureSchemaVersion = "fv1"

const PrivateFeaturePrefix = "_"

// FeatureNames is the fixed column order of FeatureVector.Values.
var FeatureNames = []string{
	"f_semantic_sim",
	"f_bm25_score_norm",
	"f_attr_color_match",
	"f_attr_brand_match",
	"f_attr_model_match",
	"f_attr_material_match",
	"f_identifier_match_ratio",
	"f_n_must_match_tokens",
	"f_identifier_in_found_text",
	"f_contradiction_score",
	"f_initial_rank",
	"f_candidate_pool_size",
	"f_query_n_tokens",
	"f_found_n_tokens",
	"f_query_missing_fields",
	"f_len_ratio",
}

const idPenaltyKey = "_id_penalty"

// FeatureVector is derived from exactly one query/candidate pair.
type FeatureVector struct {
	SemanticSim          float64
	BM25ScoreNorm        float64
	AttrColorMatch       float64
	AttrBrandMatch       float64
	AttrModelMatch       float64
	AttrMaterialMatch    float64
	IdentifierMatchRatio float64
	NMustMatchTokens     float64
	IdentifierInFound    float64
	ContradictionScore   float64
	InitialRank          float64
	CandidatePoolSize    float64
	QueryNTokens         float64
	FoundNTokens         float64
	QueryMissingFields   float64
	LenRatio             float64

	// IDPenalty feeds the rule-based scorer only.
	IDPenalty float64
}

// Values returns the public features in FeatureNames order.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.SemanticSim,
		f.BM25ScoreNorm,
		f.AttrColorMatch,
		f.AttrBrandMatch,
		f.AttrModelMatch,
		f.AttrMaterialMatch,
		f.IdentifierMatchRatio,
		f.NMustMatchTokens,
		f.IdentifierInFound,
		f.ContradictionScore,
		f.InitialRank,
		f.CandidatePoolSize,
		f.QueryNTokens,
		f.FoundNTokens,
		f.QueryMissingFields,
		f.LenRatio,
	}
}

// Breakdown maps public feature names to values.
func (f FeatureVector) Breakdown() map[string]float64 {
	values := f.Values()
	out := make(map[string]float64, len(values))
	for i, name := range FeatureNames {
		out[name] = values[i]
	}
	return out
}

// BreakdownWithPrivate includes private scorer-only fields.
func (f FeatureVector) BreakdownWithPrivate() map[string]float64 {
	out := f.Breakdown()
	out[idPenaltyKey] = f.IDPenalty
	return out
}

// FeatureVectorFromBreakdown is the inverse of Breakdown. Missing keys are 0.
func FeatureVectorFromBreakdown(b map[string]float64) FeatureVector {
	return FeatureVector{
		SemanticSim:          b["f_semantic_sim"],
		BM25ScoreNorm:        b["f_bm25_score_norm"],
		AttrColorMatch:       b["f_attr_color_match"],
		AttrBrandMatch:       b["f_attr_brand_match"],
		AttrModelMatch:       b["f_attr_model_match"],
		AttrMaterialMatch:    b["f_attr_material_match"],
		IdentifierMatchRatio: b["f_identifier_match_ratio"],
		NMustMatchTokens:     b["f_n_must_match_tokens"],
		IdentifierInFound:    b["f_identifier_in_found_text"],
		ContradictionScore:   b["f_contradiction_score"],
		InitialRank:          b["f_initial_rank"],
		CandidatePoolSize:    b["f_candidate_pool_size"],
		QueryNTokens:         b["f_query_n_tokens"],
		FoundNTokens:         b["f_found_n_tokens"],
		QueryMissingFields:   b["f_query_missing_fields"],
		LenRatio:             b["f_len_ratio"],
		IDPenalty:            b[idPenaltyKey],
	}
}

// StripPrivate drops keys with the private prefix.
func StripPrivate(b map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(b))
	for k, v := range b {
		if strings.HasPrefix(k, PrivateFeaturePrefix) {
			continue
		}
		out[k] = v
	}
	return out
}
