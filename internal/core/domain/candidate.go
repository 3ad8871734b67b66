package domain

import "time"

type CandidateSource string

const (
	SourceVector  CandidateSource = "vector"
	SourceKeyword CandidateSource = "keyword"
	SourceBoth    CandidateSource = "both"
)

// FoundItem is a stored found-item record with its extracted attributes.
type FoundItem struct {
	ID               string     `json:"id"`
	Description      string     `json:"description"`
	Category         string     `json:"category"`
	Attributes       Attributes `json:"attributes"`
	SearchableTokens []string   `json:"searchable_tokens,omitempty"`
	ExtractedAt      *time.Time `json:"extracted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// SearchFilter narrows index lookups.
type SearchFilter struct {
	Category string
}

// VectorHit is one result of the vector similarity index.
type VectorHit struct {
	ID          string
	Description string
	Category    string
	Cosine      float64
}

// KeywordHit is one result of the keyword index.
type KeywordHit struct {
	ID          string
	Description string
	Category    string
	TextScore   float64
}

// Candidate is one found item evaluated within a single request.
type Candidate struct {
	FoundID          string
	Description      string
	Category         string
	VectorScore      float64
	BM25Score        float64
	Source           CandidateSource
	Attributes       Attributes
	SearchableTokens []string
	Features         FeatureVector
	Score            float64
	ModelVersion     string
}
