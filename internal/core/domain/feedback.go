package domain

import "time"

const MaxImpressionTextLen = 1000

// ShownResult is one entry of a served ranking.
type ShownResult struct {
	Rank           int                `json:"rank"`
	FoundID        string             `json:"found_id"`
	Score          float64            `json:"score"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown"`
	ModelVersion   string             `json:"model_version"`
}

// QuerySnapshot is the part of a NormalizedQuery the dataset builder needs to
// recompute features.
type QuerySnapshot struct {
	CleanText       string     `json:"clean_text"`
	Keywords        []string   `json:"keywords"`
	Attributes      Attributes `json:"attributes"`
	MustMatchTokens []string   `json:"must_match_tokens"`
	MissingFields   []string   `json:"missing_fields"`
}

func SnapshotOf(q NormalizedQuery) *QuerySnapshot {
	return &QuerySnapshot{
		CleanText:       q.CleanText,
		Keywords:        q.Keywords,
		Attributes:      q.Attributes,
		MustMatchTokens: q.MustMatchTokens,
		MissingFields:   q.MissingFields,
	}
}

func (s QuerySnapshot) Query() NormalizedQuery {
	return NormalizedQuery{
		CleanText:       s.CleanText,
		Keywords:        s.Keywords,
		Attributes:      s.Attributes,
		MustMatchTokens: s.MustMatchTokens,
		MissingFields:   s.MissingFields,
		Confidence:      ConfidenceLow,
	}
}

// Impression records what was shown for one served ranking. Write-once.
type Impression struct {
	ImpressionID  string         `json:"impression_id"`
	QueryID       string         `json:"query_id"`
	RawText       string         `json:"raw_text"`
	Category      string         `json:"category,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	ShownResults  []ShownResult  `json:"shown_results"`
	QuerySnapshot *QuerySnapshot `json:"query_snapshot,omitempty"`
}

// Selection is the candidate a user picked from an impression.
type Selection struct {
	SelectionID     string    `json:"selection_id"`
	ImpressionID    string    `json:"impression_id"`
	QueryID         string    `json:"query_id"`
	RawText         string    `json:"raw_text"`
	SelectedFoundID string    `json:"selected_found_id"`
	SelectedRank    int       `json:"selected_rank"`
	Timestamp       time.Time `json:"timestamp"`
}

// VerificationRecord confirms (or refutes) a physical handover.
type VerificationRecord struct {
	QueryID  string `json:"query_id"`
	FoundID  string `json:"found_id"`
	Verified bool   `json:"verified"`
}

type VerificationKey struct {
	QueryID string
	FoundID string
}

// SelectedImpression joins an impression with one of its selections.
type SelectedImpression struct {
	Impression Impression
	Selection  Selection
}

func TruncateText(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
