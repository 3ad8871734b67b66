package domain

// SearchRequest is the /search input.
type SearchRequest struct {
	Text      string
	Category  string
	Limit     int
	SessionID string
}

type Match struct {
	ID             string             `json:"id"`
	Description    string             `json:"description"`
	Category       string             `json:"category"`
	Score          float64            `json:"score"`
	Reason         string             `json:"reason"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty"`
	ModelVersion   string             `json:"model_version,omitempty"`
}

// SearchResponse is the /search output. Fields tagged "-" feed metrics only.
type SearchResponse struct {
	Matches         []Match  `json:"matches"`
	TotalMatches    int      `json:"total_matches"`
	InferredContext []string `json:"inferred_context"`
	QueryID         string   `json:"query_id,omitempty"`
	ImpressionID    string   `json:"impression_id,omitempty"`

	Variant           Variant `json:"-"`
	Legacy            bool    `json:"-"`
	CandidatePoolSize int     `json:"-"`
}
