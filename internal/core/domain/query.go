package domain

// NormalizeKind selects the normalization prompt: a lost-item query or a
// found-item description.
type NormalizeKind string

const (
	KindLost  NormalizeKind = "lost"
	KindFound NormalizeKind = "found"
)

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Attributes are the structured facets extracted from free text. Empty
// strings mean "not stated".
type Attributes struct {
	Brand       string       `json:"brand,omitempty"`
	Model       string       `json:"model,omitempty"`
	Color       string       `json:"color,omitempty"`
	Material    string       `json:"material,omitempty"`
	Size        string       `json:"size,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
	UniqueMarks string       `json:"unique_marks,omitempty"`
}

// NormalizedQuery is produced once per raw text and is read-only afterwards.
type NormalizedQuery struct {
	CleanText       string     `json:"clean_text"`
	Language        string     `json:"language,omitempty"`
	Keywords        []string   `json:"keywords"`
	Attributes      Attributes `json:"attributes"`
	MustMatchTokens []string   `json:"must_match_tokens"`
	MissingFields   []string   `json:"missing_fields"`
	Confidence      string     `json:"confidence"`
}

// SearchText is the text sent to the vector index.
func (q NormalizedQuery) SearchText(raw string) string {
	if q.CleanText != "" {
		return q.CleanText
	}
	return raw
}

// InferredContext renders the extracted attributes for API consumers.
func (q NormalizedQuery) InferredContext() []string {
	out := make([]string, 0, 8)
	add := func(label, value string) {
		if value != "" {
			out = append(out, label+": "+value)
		}
	}
	add("brand", q.Attributes.Brand)
	add("model", q.Attributes.Model)
	add("color", q.Attributes.Color)
	add("material", q.Attributes.Material)
	add("size", q.Attributes.Size)
	for _, id := range q.Attributes.Identifiers {
		if id.Value == "" {
			continue
		}
		label := id.Type
		if label == "" {
			label = "identifier"
		}
		add(label, id.Value)
	}
	add("marks", q.Attributes.UniqueMarks)
	return out
}
