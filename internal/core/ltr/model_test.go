package ltr

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

func validModel() *LinearModel {
	w := make([]float64, len(domain.FeatureNames))
	w[0] = 2
	return &LinearModel{
		Version:       "ltr_test",
		FeatureSchema: domain.FeatureSchemaVersion,
		FeatureNames:  append([]string(nil), domain.FeatureNames...),
		Weights:       w,
		Bias:          -1,
	}
}

func TestLinearModelPredict(t *testing.T) {
	m := validModel()
	high := make([]float64, len(domain.FeatureNames))
	high[0] = 1
	low := make([]float64, len(domain.FeatureNames))

	scores, err := m.Predict([][]float64{high, low})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if math.Abs(scores[0]-sigmoid(1)) > 1e-12 || math.Abs(scores[1]-sigmoid(-1)) > 1e-12 {
		t.Fatalf("unexpected scores: %v", scores)
	}
}

func TestLinearModelPredictDimensionMismatch(t *testing.T) {
	if _, err := validModel().Predict([][]float64{{1, 2}}); err == nil {
		t.Fatalf("expected dimension error")
	}
}

func TestDecodeModelRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := validModel().Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	m, err := DecodeModel(&buf)
	if err != nil {
		t.Fatalf("DecodeModel() error = %v", err)
	}
	if m.Version != "ltr_test" || m.Bias != -1 || m.Weights[0] != 2 {
		t.Fatalf("unexpected decoded model: %+v", m)
	}
}

func TestDecodeModelRejectsOtherSchema(t *testing.T) {
	m := validModel()
	m.FeatureSchema = "fv0"
	var buf bytes.Buffer
	_ = m.Encode(&buf)
	if _, err := DecodeModel(&buf); err == nil || !strings.Contains(err.Error(), "feature schema") {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestValidateRejectsReorderedNames(t *testing.T) {
	m := validModel()
	m.FeatureNames[0], m.FeatureNames[1] = m.FeatureNames[1], m.FeatureNames[0]
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for reordered feature names")
	}
}

func TestValidateRejectsNonFiniteWeights(t *testing.T) {
	m := validModel()
	m.Weights[3] = math.NaN()
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for NaN weight")
	}
}
