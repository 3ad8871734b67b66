package ltr

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

// LinearModel is the learned ranking artifact:
//
//	z = Bias + sum(Weights[i] * x[i])
//	score = 1 / (1 + exp(-z))
//
// Weights follow FeatureNames order.
type LinearModel struct {
	Version       string    `json:"version"`
	FeatureSchema string    `json:"feature_schema"`
	FeatureNames  []string  `json:"feature_names"`
	Weights       []float64 `json:"weights"`
	Bias          float64   `json:"bias"`
	TrainedAt     string    `json:"trained_at,omitempty"`
}

// DecodeModel reads a JSON artifact and validates it against the serving
// feature schema.
func DecodeModel(r io.Reader) (*LinearModel, error) {
	var m LinearModel
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode writes the artifact as JSON.
func (m *LinearModel) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// Validate rejects artifacts trained on a different feature layout.
func (m *LinearModel) Validate() error {
	if m.FeatureSchema != domain.FeatureSchemaVersion {
		return fmt.Errorf("feature schema %q, serving %q", m.FeatureSchema, domain.FeatureSchemaVersion)
	}
	if !slices.Equal(m.FeatureNames, domain.FeatureNames) {
		return fmt.Errorf("feature names differ from serving order")
	}
	if len(m.Weights) != len(domain.FeatureNames) {
		return fmt.Errorf("expected %d weights, got %d", len(domain.FeatureNames), len(m.Weights))
	}
	for _, w := range append(slices.Clone(m.Weights), m.Bias) {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("non-finite parameter")
		}
	}
	return nil
}

func (m *LinearModel) logit(x []float64) float64 {
	z := m.Bias
	for i, w := range m.Weights {
		z += w * x[i]
	}
	return z
}

// Predict scores each row. Rows must have exactly len(Weights) columns.
func (m *LinearModel) Predict(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(m.Weights) {
			return nil, fmt.Errorf("row %d: expected %d features, got %d", i, len(m.Weights), len(row))
		}
		score := sigmoid(m.logit(row))
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, fmt.Errorf("row %d: non-finite score", i)
		}
		out[i] = score
	}
	return out, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
