package usecase

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
	"github.com/kirillkom/lostfound-matcher/internal/core/ranking"
)

const (
	maxHardNegatives   = 8
	defaultValFraction = 0.2
)

// DatasetUseCase turns logged impressions and selections into labeled,
// query-disjoint train/val rows.
type DatasetUseCase struct {
	feedback    ports.FeedbackStore
	items       ports.FoundItemStore
	valFraction float64
}

func NewDatasetUseCase(feedback ports.FeedbackStore, items ports.FoundItemStore, valFraction float64) *DatasetUseCase {
	if valFraction <= 0 || valFraction >= 1 {
		valFraction = defaultValFraction
	}
	return &DatasetUseCase{feedback: feedback, items: items, valFraction: valFraction}
}

func (uc *DatasetUseCase) Build(ctx context.Context, from, to time.Time) (*domain.Dataset, error) {
	if uc.feedback == nil || !uc.feedback.Available() {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "build dataset", fmt.Errorf("feedback store not connected"))
	}

	pairs, err := uc.feedback.ListSelectedImpressions(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list selected impressions: %w", err)
	}

	queryIDs := make([]string, 0, len(pairs))
	foundIDs := make([]string, 0, len(pairs)*4)
	seenQuery := make(map[string]struct{})
	seenFound := make(map[string]struct{})
	for _, p := range pairs {
		if _, ok := seenQuery[p.Impression.QueryID]; !ok {
			seenQuery[p.Impression.QueryID] = struct{}{}
			queryIDs = append(queryIDs, p.Impression.QueryID)
		}
		ids := append([]string{p.Selection.SelectedFoundID}, shownIDs(p.Impression)...)
		for _, id := range ids {
			if _, ok := seenFound[id]; !ok {
				seenFound[id] = struct{}{}
				foundIDs = append(foundIDs, id)
			}
		}
	}

	verifications, err := uc.feedback.ListVerifications(ctx, queryIDs)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}

	// Picks verified wrong are not positives, so they stay eligible as
	// negatives for the other picks of the same impression.
	positivesByImpression := make(map[string]map[string]struct{})
	for _, p := range pairs {
		key := domain.VerificationKey{QueryID: p.Impression.QueryID, FoundID: p.Selection.SelectedFoundID}
		if verified, known := verifications[key]; known && !verified {
			continue
		}
		pos := positivesByImpression[p.Impression.ImpressionID]
		if pos == nil {
			pos = make(map[string]struct{})
			positivesByImpression[p.Impression.ImpressionID] = pos
		}
		pos[p.Selection.SelectedFoundID] = struct{}{}
	}
	items := uc.loadItems(ctx, foundIDs)

	ds := &domain.Dataset{
		FeatureSchema: domain.FeatureSchemaVersion,
		FeatureNames:  append([]string(nil), domain.FeatureNames...),
	}
	emitted := make(map[domain.VerificationKey]struct{})
	for _, p := range pairs {
		imp, sel := p.Impression, p.Selection
		verified, known := verifications[domain.VerificationKey{QueryID: imp.QueryID, FoundID: sel.SelectedFoundID}]
		if known && !verified {
			continue
		}
		strong := known && verified

		q := reconstructQuery(imp)
		shown := make(map[string]domain.ShownResult, len(imp.ShownResults))
		for _, r := range imp.ShownResults {
			shown[r.FoundID] = r
		}

		posWeight, negWeight := domain.WeightWeakPositive, domain.WeightWeakNegative
		if strong {
			posWeight, negWeight = domain.WeightStrongPositive, domain.WeightStrongNegative
		}

		add := func(foundID string, label int, weight float64) {
			key := domain.VerificationKey{QueryID: imp.QueryID, FoundID: foundID}
			if _, dup := emitted[key]; dup {
				return
			}
			emitted[key] = struct{}{}
			r, wasShown := shown[foundID]
			ds.Rows = append(ds.Rows, domain.TrainingRow{
				QueryID:   imp.QueryID,
				FoundID:   foundID,
				Label:     label,
				Weight:    weight,
				Features:  reconstructFeatures(q, foundID, r.ScoreBreakdown, wasShown, items).Values(),
				Timestamp: imp.Timestamp,
			})
		}

		add(sel.SelectedFoundID, 1, posWeight)

		negatives := make([]domain.ShownResult, 0, len(imp.ShownResults))
		for _, r := range imp.ShownResults {
			if _, positive := positivesByImpression[imp.ImpressionID][r.FoundID]; positive {
				continue
			}
			negatives = append(negatives, r)
		}
		sort.SliceStable(negatives, func(i, j int) bool { return negatives[i].Rank < negatives[j].Rank })
		if len(negatives) > maxHardNegatives {
			negatives = negatives[:maxHardNegatives]
		}
		for _, r := range negatives {
			add(r.FoundID, 0, negWeight)
		}
	}

	assignSplits(ds.Rows, uc.valFraction)
	if err := AssertDisjoint(ds); err != nil {
		return nil, err
	}
	slog.Info("dataset_built",
		"pairs", len(pairs),
		"rows", len(ds.Rows),
		"positives", ds.Positives(""),
		"train_queries", len(ds.QueryIDs(domain.SplitTrain)),
		"val_queries", len(ds.QueryIDs(domain.SplitVal)),
	)
	return ds, nil
}

func (uc *DatasetUseCase) loadItems(ctx context.Context, ids []string) map[string]domain.FoundItem {
	if uc.items == nil || !uc.items.Available() || len(ids) == 0 {
		return nil
	}
	items, err := uc.items.GetItems(ctx, ids)
	if err != nil {
		slog.Warn("dataset_items_fetch_failed", "items", len(ids), "error", err)
		return nil
	}
	return items
}

// reconstructQuery prefers the logged query snapshot; without it only the raw
// text is known.
func reconstructQuery(imp domain.Impression) domain.NormalizedQuery {
	if imp.QuerySnapshot != nil {
		return imp.QuerySnapshot.Query()
	}
	return domain.NormalizedQuery{CleanText: imp.RawText, Confidence: domain.ConfidenceLow}
}

// reconstructFeatures recomputes the serving features from the logged
// breakdown and the stored item. When the item is gone the logged features
// are used as they were served.
func reconstructFeatures(
	q domain.NormalizedQuery,
	foundID string,
	breakdown map[string]float64,
	wasShown bool,
	items map[string]domain.FoundItem,
) domain.FeatureVector {
	logged := domain.FeatureVectorFromBreakdown(breakdown)
	item, ok := items[foundID]
	if !ok {
		return logged
	}

	c := domain.Candidate{
		FoundID:          foundID,
		Description:      item.Description,
		Category:         item.Category,
		Attributes:       item.Attributes,
		SearchableTokens: item.SearchableTokens,
	}
	if wasShown {
		c.VectorScore = ranking.CosineFromSemantic(logged.SemanticSim)
		c.BM25Score = ranking.BM25FromNorm(logged.BM25ScoreNorm)
	}
	f := ranking.ComputeFeatures(q, c)
	f.InitialRank = logged.InitialRank
	f.CandidatePoolSize = logged.CandidatePoolSize
	return f
}

// assignSplits puts the most recent share of queries in validation. Without
// timestamps it falls back to a stable hash of the query id.
func assignSplits(rows []domain.TrainingRow, valFraction float64) {
	latest := make(map[string]time.Time)
	timed := true
	for _, row := range rows {
		if row.Timestamp.IsZero() {
			timed = false
		}
		if t, ok := latest[row.QueryID]; !ok || row.Timestamp.After(t) {
			latest[row.QueryID] = row.Timestamp
		}
	}

	val := make(map[string]bool, len(latest))
	if timed {
		queries := make([]string, 0, len(latest))
		for id := range latest {
			queries = append(queries, id)
		}
		sort.Slice(queries, func(i, j int) bool {
			ti, tj := latest[queries[i]], latest[queries[j]]
			if ti.Equal(tj) {
				return queries[i] < queries[j]
			}
			return ti.Before(tj)
		})
		nVal := int(math.Round(float64(len(queries)) * valFraction))
		if nVal == 0 && len(queries) >= 2 {
			nVal = 1
		}
		for _, id := range queries[len(queries)-nVal:] {
			val[id] = true
		}
	} else {
		for id := range latest {
			val[id] = hashBucket(id) < int(valFraction*100)
		}
	}

	for i := range rows {
		rows[i].Split = domain.SplitTrain
		if val[rows[i].QueryID] {
			rows[i].Split = domain.SplitVal
		}
	}
}

func hashBucket(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % 100)
}

// AssertDisjoint fails when any query id appears in both splits.
func AssertDisjoint(ds *domain.Dataset) error {
	val := ds.QueryIDs(domain.SplitVal)
	for id := range ds.QueryIDs(domain.SplitTrain) {
		if _, ok := val[id]; ok {
			return domain.WrapError(domain.ErrDatasetLeakage, "build dataset", fmt.Errorf("query %s in train and val", id))
		}
	}
	return nil
}

func shownIDs(imp domain.Impression) []string {
	out := make([]string, 0, len(imp.ShownResults))
	for _, r := range imp.ShownResults {
		out = append(out, r.FoundID)
	}
	return out
}
