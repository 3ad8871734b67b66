package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

var datasetBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func selectedImpression(queryID string, at time.Time, shown int, picked string) domain.SelectedImpression {
	imp := domain.Impression{
		ImpressionID: "imp-" + queryID,
		QueryID:      queryID,
		RawText:      "lost item " + queryID,
		Timestamp:    at,
	}
	for i := 1; i <= shown; i++ {
		imp.ShownResults = append(imp.ShownResults, domain.ShownResult{
			Rank:           i,
			FoundID:        fmt.Sprintf("%s-f%02d", queryID, i),
			ScoreBreakdown: map[string]float64{"f_semantic_sim": 1 - float64(i)/20, "f_initial_rank": float64(i)},
		})
	}
	return domain.SelectedImpression{
		Impression: imp,
		Selection: domain.Selection{
			ImpressionID:    imp.ImpressionID,
			QueryID:         queryID,
			SelectedFoundID: picked,
			Timestamp:       at.Add(time.Minute),
		},
	}
}

func rowsFor(ds *domain.Dataset, queryID string) []domain.TrainingRow {
	var out []domain.TrainingRow
	for _, row := range ds.Rows {
		if row.QueryID == queryID {
			out = append(out, row)
		}
	}
	return out
}

func TestBuildDatasetLabelsAndWeights(t *testing.T) {
	store := &fakeFeedbackStore{
		pairs: []domain.SelectedImpression{
			selectedImpression("q1", datasetBase, 10, "q1-f03"),
			selectedImpression("q2", datasetBase.Add(time.Hour), 3, "q2-f01"),
			selectedImpression("q3", datasetBase.Add(2*time.Hour), 3, "q3-f02"),
		},
		verifications: map[domain.VerificationKey]bool{
			{QueryID: "q2", FoundID: "q2-f01"}: true,
			{QueryID: "q3", FoundID: "q3-f02"}: false,
		},
	}
	ds, err := NewDatasetUseCase(store, nil, 0).Build(context.Background(), datasetBase.Add(-time.Hour), datasetBase.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if ds.FeatureSchema != domain.FeatureSchemaVersion || len(ds.FeatureNames) != len(domain.FeatureNames) {
		t.Fatalf("unexpected schema: %s %v", ds.FeatureSchema, ds.FeatureNames)
	}

	q1 := rowsFor(ds, "q1")
	if len(q1) != 1+maxHardNegatives {
		t.Fatalf("expected positive plus %d negatives for q1, got %d", maxHardNegatives, len(q1))
	}
	if q1[0].FoundID != "q1-f03" || q1[0].Label != 1 || q1[0].Weight != domain.WeightWeakPositive {
		t.Fatalf("unexpected weak positive: %+v", q1[0])
	}
	wantNeg := []string{"q1-f01", "q1-f02", "q1-f04", "q1-f05", "q1-f06", "q1-f07", "q1-f08", "q1-f09"}
	for i, id := range wantNeg {
		row := q1[i+1]
		if row.FoundID != id || row.Label != 0 || row.Weight != domain.WeightWeakNegative {
			t.Fatalf("negative %d = %+v, want %s", i, row, id)
		}
		if len(row.Features) != len(domain.FeatureNames) {
			t.Fatalf("unexpected feature width %d", len(row.Features))
		}
	}

	q2 := rowsFor(ds, "q2")
	if len(q2) != 3 || q2[0].Weight != domain.WeightStrongPositive || q2[1].Weight != domain.WeightStrongNegative {
		t.Fatalf("unexpected strong rows: %+v", q2)
	}
	if len(rowsFor(ds, "q3")) != 0 {
		t.Fatalf("refuted handover must be dropped")
	}
	if ds.Positives("") != 2 {
		t.Fatalf("expected 2 positives, got %d", ds.Positives(""))
	}
}

func TestBuildDatasetSelectedItemsAreNeverNegatives(t *testing.T) {
	first := selectedImpression("q1", datasetBase, 4, "q1-f01")
	second := first
	second.Selection.SelectedFoundID = "q1-f02"
	store := &fakeFeedbackStore{pairs: []domain.SelectedImpression{first, second}}

	ds, err := NewDatasetUseCase(store, nil, 0).Build(context.Background(), datasetBase, datasetBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	labels := make(map[string]int)
	for _, row := range ds.Rows {
		if _, dup := labels[row.FoundID]; dup {
			t.Fatalf("duplicate row for %s", row.FoundID)
		}
		labels[row.FoundID] = row.Label
	}
	if labels["q1-f01"] != 1 || labels["q1-f02"] != 1 || labels["q1-f03"] != 0 || labels["q1-f04"] != 0 {
		t.Fatalf("unexpected labels: %v", labels)
	}
}

func TestBuildDatasetRefutedPickBecomesNegative(t *testing.T) {
	refuted := selectedImpression("q1", datasetBase, 4, "q1-f01")
	kept := refuted
	kept.Selection.SelectedFoundID = "q1-f02"
	store := &fakeFeedbackStore{
		pairs: []domain.SelectedImpression{refuted, kept},
		verifications: map[domain.VerificationKey]bool{
			{QueryID: "q1", FoundID: "q1-f01"}: false,
		},
	}

	ds, err := NewDatasetUseCase(store, nil, 0).Build(context.Background(), datasetBase, datasetBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	labels := make(map[string]int)
	for _, row := range ds.Rows {
		labels[row.FoundID] = row.Label
	}
	if len(labels) != 4 || labels["q1-f02"] != 1 {
		t.Fatalf("unexpected labels: %v", labels)
	}
	for _, id := range []string{"q1-f01", "q1-f03", "q1-f04"} {
		if label, ok := labels[id]; !ok || label != 0 {
			t.Fatalf("expected %s as negative, got %v", id, labels)
		}
	}
}

func TestBuildDatasetRecentQueriesGoToValidation(t *testing.T) {
	store := &fakeFeedbackStore{}
	for i := 0; i < 10; i++ {
		store.pairs = append(store.pairs, selectedImpression(fmt.Sprintf("q%02d", i), datasetBase.Add(time.Duration(i)*time.Hour), 3, fmt.Sprintf("q%02d-f01", i)))
	}
	ds, err := NewDatasetUseCase(store, nil, 0.2).Build(context.Background(), datasetBase, datasetBase.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	val := ds.QueryIDs(domain.SplitVal)
	if len(val) != 2 {
		t.Fatalf("expected 2 validation queries, got %v", val)
	}
	for _, id := range []string{"q08", "q09"} {
		if _, ok := val[id]; !ok {
			t.Fatalf("expected %s in validation, got %v", id, val)
		}
	}
	if err := AssertDisjoint(ds); err != nil {
		t.Fatalf("AssertDisjoint() error = %v", err)
	}
}

func TestBuildDatasetSingleQueryStaysInTrain(t *testing.T) {
	store := &fakeFeedbackStore{pairs: []domain.SelectedImpression{selectedImpression("q1", datasetBase, 2, "q1-f01")}}
	ds, err := NewDatasetUseCase(store, nil, 0).Build(context.Background(), datasetBase, datasetBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(ds.Val()) != 0 || len(ds.Train()) != 2 {
		t.Fatalf("expected all rows in train, got train=%d val=%d", len(ds.Train()), len(ds.Val()))
	}
}

func TestAssignSplitsHashFallbackIsQueryDisjoint(t *testing.T) {
	var rows []domain.TrainingRow
	for i := 0; i < 50; i++ {
		for j := 0; j < 3; j++ {
			rows = append(rows, domain.TrainingRow{QueryID: fmt.Sprintf("q%d", i), FoundID: fmt.Sprintf("f%d", j)})
		}
	}
	assignSplits(rows, 0.2)
	if err := AssertDisjoint(&domain.Dataset{Rows: rows}); err != nil {
		t.Fatalf("AssertDisjoint() error = %v", err)
	}
	again := make([]domain.TrainingRow, len(rows))
	copy(again, rows)
	assignSplits(again, 0.2)
	for i := range rows {
		if rows[i].Split != again[i].Split {
			t.Fatalf("hash split is not stable for %s", rows[i].QueryID)
		}
	}
}

func TestAssertDisjointDetectsLeakage(t *testing.T) {
	ds := &domain.Dataset{Rows: []domain.TrainingRow{
		{QueryID: "q1", FoundID: "a", Split: domain.SplitTrain},
		{QueryID: "q1", FoundID: "b", Split: domain.SplitVal},
	}}
	if err := AssertDisjoint(ds); !errors.Is(err, domain.ErrDatasetLeakage) {
		t.Fatalf("expected ErrDatasetLeakage, got %v", err)
	}
}

func TestBuildDatasetStoreUnavailable(t *testing.T) {
	_, err := NewDatasetUseCase(&fakeFeedbackStore{unavailable: true}, nil, 0).Build(context.Background(), datasetBase, datasetBase)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestBuildDatasetMatchesServingFeatures(t *testing.T) {
	f := newRankFixture()
	ranker := f.useCase(0)
	res, err := ranker.InferenceRerank(context.Background(), domain.RankRequest{RawText: "black phone IMEI001", SessionID: "s1"})
	if err != nil {
		t.Fatalf("InferenceRerank() error = %v", err)
	}
	imp := f.feedback.impressions[0]
	f.feedback.pairs = []domain.SelectedImpression{{
		Impression: imp,
		Selection: domain.Selection{
			ImpressionID:    imp.ImpressionID,
			QueryID:         imp.QueryID,
			SelectedFoundID: res.Results[1].FoundID,
			Timestamp:       imp.Timestamp,
		},
	}}

	ds, err := NewDatasetUseCase(f.feedback, f.items, 0).Build(context.Background(), imp.Timestamp.Add(-time.Hour), imp.Timestamp.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(ds.Rows) != len(res.Results) {
		t.Fatalf("expected %d rows, got %d", len(res.Results), len(ds.Rows))
	}

	served := make(map[string][]float64, len(res.Results))
	for _, r := range res.Results {
		served[r.FoundID] = domain.FeatureVectorFromBreakdown(r.ScoreBreakdown).Values()
	}
	for _, row := range ds.Rows {
		want := served[row.FoundID]
		for i := range want {
			if math.Abs(want[i]-row.Features[i]) > 1e-9 {
				t.Fatalf("%s feature %s: served %v, rebuilt %v", row.FoundID, domain.FeatureNames[i], want[i], row.Features[i])
			}
		}
	}
}
