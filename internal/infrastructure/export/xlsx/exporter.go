package xlsx

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

const summarySheet = "summary"

// Exporter writes a dataset as a workbook with one sheet per split plus a
// summary sheet.
type Exporter struct{}

func NewExporter() *Exporter { return &Exporter{} }

func (e *Exporter) Export(ds *domain.Dataset, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	summary := [][]any{
		{"feature_schema", ds.FeatureSchema},
		{"rows", len(ds.Rows)},
		{"train_rows", len(ds.Train())},
		{"val_rows", len(ds.Val())},
		{"train_queries", len(ds.QueryIDs(domain.SplitTrain))},
		{"val_queries", len(ds.QueryIDs(domain.SplitVal))},
		{"positives", ds.Positives("")},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	for _, split := range []domain.Split{domain.SplitTrain, domain.SplitVal} {
		if err := writeSplit(f, string(split), ds.FeatureNames, rowsOf(ds, split)); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func rowsOf(ds *domain.Dataset, split domain.Split) []domain.TrainingRow {
	if split == domain.SplitVal {
		return ds.Val()
	}
	return ds.Train()
}

func writeSplit(f *excelize.File, sheet string, featureNames []string, rows []domain.TrainingRow) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("stream sheet %s: %w", sheet, err)
	}

	header := []any{"query_id", "found_id", "label", "weight", "timestamp"}
	for _, name := range featureNames {
		header = append(header, name)
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}

	for i, row := range rows {
		values := make([]any, 0, len(header))
		values = append(values, row.QueryID, row.FoundID, row.Label, row.Weight, row.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
		for _, v := range row.Features {
			values = append(values, v)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet %s: %w", sheet, err)
	}
	return nil
}
