package xlsx

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

func TestExportWritesSplitsAndSummary(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ds := &domain.Dataset{
		FeatureSchema: domain.FeatureSchemaVersion,
		FeatureNames:  []string{"f_a", "f_b"},
		Rows: []domain.TrainingRow{
			{QueryID: "q1", FoundID: "f1", Label: 1, Weight: 3, Features: []float64{0.9, 0.1}, Timestamp: ts, Split: domain.SplitTrain},
			{QueryID: "q1", FoundID: "f2", Label: 0, Weight: 1, Features: []float64{0.2, 0.4}, Timestamp: ts, Split: domain.SplitTrain},
			{QueryID: "q2", FoundID: "f3", Label: 1, Weight: 0.5, Features: []float64{0.7, 0.3}, Timestamp: ts, Split: domain.SplitVal},
		},
	}
	path := filepath.Join(t.TempDir(), "dataset.xlsx")
	if err := NewExporter().Export(ds, path); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	train, err := f.GetRows("train")
	if err != nil {
		t.Fatalf("GetRows(train) error = %v", err)
	}
	if len(train) != 3 || train[0][5] != "f_a" || train[1][1] != "f1" || train[1][4] != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected train sheet: %v", train)
	}
	val, _ := f.GetRows("val")
	if len(val) != 2 || val[1][0] != "q2" {
		t.Fatalf("unexpected val sheet: %v", val)
	}
	summary, _ := f.GetRows(summarySheet)
	if len(summary) != 7 || summary[1][1] != "3" || summary[6][1] != "2" {
		t.Fatalf("unexpected summary sheet: %v", summary)
	}
}
