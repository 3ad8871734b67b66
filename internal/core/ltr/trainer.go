package ltr

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

const ndcgCutoff = 5

// TrainOptions tunes the listwise trainer.
type TrainOptions struct {
	MinPositives int
	Epochs       int
	LearningRate float64
	L2           float64
}

func (o TrainOptions) withDefaults() TrainOptions {
	if o.Epochs <= 0 {
		o.Epochs = 200
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.1
	}
	if o.L2 < 0 {
		o.L2 = 0
	}
	return o
}

// Report summarizes one training run.
type Report struct {
	TrainRows      int     `json:"train_rows"`
	ValRows        int     `json:"val_rows"`
	TrainQueries   int     `json:"train_queries"`
	ValQueries     int     `json:"val_queries"`
	Positives      int     `json:"positives"`
	TrainPositives int     `json:"train_positives"`
	Loss           float64 `json:"loss"`
	NDCG5          float64 `json:"ndcg_at_5"`
	MRR            float64 `json:"mrr"`
}

type group struct {
	rows    [][]float64
	labels  []float64
	weights []float64
}

// Train fits a LinearModel with a ListNet (softmax cross-entropy) loss over
// query groups. Row weights scale the target distribution and the gradient.
func Train(ds *domain.Dataset, opts TrainOptions) (*LinearModel, Report, error) {
	opts = opts.withDefaults()
	train := ds.Train()
	val := ds.Val()

	report := Report{
		TrainRows:      len(train),
		ValRows:        len(val),
		Positives:      ds.Positives(""),
		TrainPositives: ds.Positives(domain.SplitTrain),
	}
	if report.Positives < opts.MinPositives || report.Positives == 0 {
		return nil, report, &domain.InsufficientDataError{
			What:     "positives",
			Observed: report.Positives,
			Required: max(opts.MinPositives, 1),
		}
	}
	if report.TrainPositives == 0 {
		return nil, report, &domain.InsufficientDataError{What: "train split positives", Required: 1}
	}

	dim := len(domain.FeatureNames)
	trainGroups := groupRows(train, dim)
	valGroups := groupRows(val, dim)
	report.TrainQueries = len(trainGroups)
	report.ValQueries = len(valGroups)
	if len(trainGroups) == 0 {
		return nil, report, &domain.InsufficientDataError{What: "train queries", Required: 1}
	}

	mean, scale := standardization(train, dim)
	std := func(x []float64) []float64 {
		out := make([]float64, dim)
		for i := range out {
			out[i] = (x[i] - mean[i]) / scale[i]
		}
		return out
	}
	for _, g := range trainGroups {
		for i := range g.rows {
			g.rows[i] = std(g.rows[i])
		}
	}

	w := make([]float64, dim)
	grad := make([]float64, dim)
	var loss float64
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		clear(grad)
		loss = 0
		for _, g := range trainGroups {
			loss += g.accumulate(w, grad)
		}
		n := float64(len(trainGroups))
		for i := range w {
			grad[i] = grad[i]/n + opts.L2*w[i]
			w[i] -= opts.LearningRate * grad[i]
		}
		loss /= n
	}
	report.Loss = loss

	// Fold standardization back so the artifact takes raw features.
	model := &LinearModel{
		FeatureSchema: domain.FeatureSchemaVersion,
		FeatureNames:  append([]string(nil), domain.FeatureNames...),
		Weights:       make([]float64, dim),
	}
	for i := range w {
		model.Weights[i] = w[i] / scale[i]
		model.Bias -= w[i] * mean[i] / scale[i]
	}
	if err := model.Validate(); err != nil {
		return nil, report, fmt.Errorf("train: %w", err)
	}

	report.NDCG5, report.MRR = evaluate(model, valGroups)
	return model, report, nil
}

// accumulate adds this group's gradient and returns its weighted loss.
func (g *group) accumulate(w, grad []float64) float64 {
	var targetMass, groupWeight float64
	for i, label := range g.labels {
		targetMass += label * g.weights[i]
		groupWeight += g.weights[i]
	}
	if targetMass == 0 {
		return 0
	}
	groupWeight /= float64(len(g.labels))

	logits := make([]float64, len(g.rows))
	for i, x := range g.rows {
		logits[i] = dot(w, x)
	}
	probs := softmax(logits)

	loss := 0.0
	for i, x := range g.rows {
		target := g.labels[i] * g.weights[i] / targetMass
		if target > 0 {
			loss -= target * math.Log(math.Max(probs[i], 1e-12))
		}
		delta := groupWeight * (probs[i] - target)
		for j := range grad {
			grad[j] += delta * x[j]
		}
	}
	return groupWeight * loss
}

// evaluate computes mean NDCG@5 and MRR over groups containing a positive.
func evaluate(model *LinearModel, groups []*group) (ndcg, mrr float64) {
	n := 0
	for _, g := range groups {
		if !hasPositive(g) {
			continue
		}
		scores, err := model.Predict(g.rows)
		if err != nil {
			continue
		}
		order := make([]int, len(scores))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

		ndcg += ndcgAt(order, g.labels, ndcgCutoff)
		for rank, idx := range order {
			if g.labels[idx] > 0 {
				mrr += 1 / float64(rank+1)
				break
			}
		}
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return ndcg / float64(n), mrr / float64(n)
}

func ndcgAt(order []int, labels []float64, k int) float64 {
	dcg := 0.0
	for rank, idx := range order {
		if rank >= k {
			break
		}
		dcg += labels[idx] / math.Log2(float64(rank+2))
	}
	ideal := append([]float64(nil), labels...)
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))
	idcg := 0.0
	for rank, label := range ideal {
		if rank >= k {
			break
		}
		idcg += label / math.Log2(float64(rank+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// NewVersion names a model artifact trained at now.
func NewVersion(now time.Time) string {
	return fmt.Sprintf("ltr_%s_%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

func groupRows(rows []domain.TrainingRow, dim int) []*group {
	byQuery := make(map[string]*group)
	keys := make([]string, 0)
	for _, row := range rows {
		if len(row.Features) != dim {
			continue
		}
		g, ok := byQuery[row.QueryID]
		if !ok {
			g = &group{}
			byQuery[row.QueryID] = g
			keys = append(keys, row.QueryID)
		}
		g.rows = append(g.rows, append([]float64(nil), row.Features...))
		g.labels = append(g.labels, float64(row.Label))
		g.weights = append(g.weights, row.Weight)
	}
	sort.Strings(keys)
	out := make([]*group, 0, len(keys))
	for _, k := range keys {
		out = append(out, byQuery[k])
	}
	return out
}

func standardization(rows []domain.TrainingRow, dim int) (mean, scale []float64) {
	mean = make([]float64, dim)
	scale = make([]float64, dim)
	n := 0.0
	for _, row := range rows {
		if len(row.Features) != dim {
			continue
		}
		for i, v := range row.Features {
			mean[i] += v
		}
		n++
	}
	if n > 0 {
		for i := range mean {
			mean[i] /= n
		}
	}
	for _, row := range rows {
		if len(row.Features) != dim {
			continue
		}
		for i, v := range row.Features {
			d := v - mean[i]
			scale[i] += d * d
		}
	}
	for i := range scale {
		if n > 0 {
			scale[i] = math.Sqrt(scale[i] / n)
		}
		if scale[i] < 1e-9 {
			scale[i] = 1
		}
	}
	return mean, scale
}

func hasPositive(g *group) bool {
	for _, l := range g.labels {
		if l > 0 {
			return true
		}
	}
	return false
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		maxZ = math.Max(maxZ, v)
	}
	out := make([]float64, len(z))
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
