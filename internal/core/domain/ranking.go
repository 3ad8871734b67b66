package domain

type Variant string

const (
	VariantRuleBased Variant = "rule_based"
	VariantLearned   Variant = "learned"
)

// RuleBasedModelVersion tags results scored by the rule-based formula.
const RuleBasedModelVersion = "rule_based_v1"

// RankRequest is the input of one ranking pass.
type RankRequest struct {
	RawText   string
	Category  string
	SessionID string
	TopK      int
}

type RankedResult struct {
	FoundID        string             `json:"found_id"`
	Description    string             `json:"description"`
	Category       string             `json:"category"`
	Rank           int                `json:"rank"`
	Score          float64            `json:"score"`
	Source         CandidateSource    `json:"source"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown"`
	ModelVersion   string             `json:"model_version"`
}

// RankResult is the output of one ranking pass. ImpressionID is empty when
// nothing was logged.
type RankResult struct {
	QueryID      string          `json:"query_id"`
	ImpressionID string          `json:"impression_id,omitempty"`
	Variant      Variant         `json:"variant"`
	Query        NormalizedQuery `json:"query"`
	Results      []RankedResult  `json:"ranked_results"`

	CandidatePoolSize int `json:"-"`
}

// ModelInfo describes the currently loaded learned model.
type ModelInfo struct {
	Version       string `json:"version"`
	FeatureSchema string `json:"feature_schema"`
	Loaded        bool   `json:"loaded"`
}
