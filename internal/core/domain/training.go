package domain

import "time"

type Split string

const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
)

const (
	WeightStrongPositive = 3.0
	WeightWeakPositive   = 0.5
	WeightStrongNegative = 1.0
	WeightWeakNegative   = 0.3
)

// TrainingRow is one labeled (query, found item) pair.
type TrainingRow struct {
	QueryID   string    `json:"query_id"`
	FoundID   string    `json:"found_id"`
	Label     int       `json:"label"`
	Weight    float64   `json:"weight"`
	Features  []float64 `json:"features"`
	Timestamp time.Time `json:"timestamp"`
	Split     Split     `json:"split"`
}

// Dataset is the output of the dataset builder.
type Dataset struct {
	FeatureSchema string        `json:"feature_schema"`
	FeatureNames  []string      `json:"feature_names"`
	Rows          []TrainingRow `json:"rows"`
}

func (d *Dataset) Train() []TrainingRow { return d.filter(SplitTrain) }
func (d *Dataset) Val() []TrainingRow   { return d.filter(SplitVal) }

func (d *Dataset) filter(split Split) []TrainingRow {
	out := make([]TrainingRow, 0, len(d.Rows))
	for _, row := range d.Rows {
		if row.Split == split {
			out = append(out, row)
		}
	}
	return out
}

// Positives counts label=1 rows in the given split ("" for all).
func (d *Dataset) Positives(split Split) int {
	n := 0
	for _, row := range d.Rows {
		if row.Label == 1 && (split == "" || row.Split == split) {
			n++
		}
	}
	return n
}

// QueryIDs returns the distinct query ids of a split.
func (d *Dataset) QueryIDs(split Split) map[string]struct{} {
	out := make(map[string]struct{})
	for _, row := range d.Rows {
		if row.Split == split {
			out[row.QueryID] = struct{}{}
		}
	}
	return out
}
