package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

type Normalizer struct {
	client *Client
}

func NewNormalizer(client *Client) *Normalizer {
	return &Normalizer{client: client}
}

type normalizationPayload struct {
	CleanText  *string `json:"clean_text"`
	Language   *string `json:"language"`
	Keywords   []any   `json:"keywords"`
	Attributes struct {
		Brand       *string `json:"brand"`
		Model       *string `json:"model"`
		Color       *string `json:"color"`
		Material    *string `json:"material"`
		Size        *string `json:"size"`
		UniqueMarks *string `json:"unique_marks"`
		Identifiers []struct {
			Type  *string `json:"type"`
			Value *string `json:"value"`
		} `json:"identifiers"`
	} `json:"attributes"`
	MustMatchTokens []any   `json:"must_match_tokens"`
	MissingFields   []any   `json:"missing_fields"`
	Confidence      *string `json:"confidence"`
}

// Normalize asks the generation model for structured attributes. Fields the
// model omits or mistypes default to empty; an unknown confidence becomes low.
func (n *Normalizer) Normalize(ctx context.Context, kind domain.NormalizeKind, rawText, category string) (domain.NormalizedQuery, error) {
	respText, err := n.client.generateJSON(ctx, "normalize", buildNormalizationPrompt(kind, rawText, category))
	if err != nil {
		return domain.NormalizedQuery{}, err
	}

	var payload normalizationPayload
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &payload); err != nil {
		return domain.NormalizedQuery{}, fmt.Errorf("parse normalization json: %w", err)
	}

	q := domain.NormalizedQuery{
		CleanText:       str(payload.CleanText),
		Language:        str(payload.Language),
		Keywords:        stringList(payload.Keywords),
		MustMatchTokens: stringList(payload.MustMatchTokens),
		MissingFields:   stringList(payload.MissingFields),
		Confidence:      confidence(str(payload.Confidence)),
		Attributes: domain.Attributes{
			Brand:       str(payload.Attributes.Brand),
			Model:       str(payload.Attributes.Model),
			Color:       str(payload.Attributes.Color),
			Material:    str(payload.Attributes.Material),
			Size:        str(payload.Attributes.Size),
			UniqueMarks: str(payload.Attributes.UniqueMarks),
		},
	}
	for _, id := range payload.Attributes.Identifiers {
		value := str(id.Value)
		if value == "" {
			continue
		}
		q.Attributes.Identifiers = append(q.Attributes.Identifiers, domain.Identifier{Type: str(id.Type), Value: value})
	}
	if q.CleanText == "" {
		q.CleanText = strings.TrimSpace(rawText)
		q.Confidence = domain.ConfidenceLow
	}
	return q, nil
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// stringList keeps the non-empty string elements of a loosely typed array.
func stringList(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func confidence(v string) string {
	switch strings.ToLower(v) {
	case domain.ConfidenceHigh:
		return domain.ConfidenceHigh
	case domain.ConfidenceMedium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
