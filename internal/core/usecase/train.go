package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/ltr"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
)

type TrainRequest struct {
	Days       int
	DryRun     bool
	ExportPath string
}

type TrainOutcome struct {
	From       time.Time  `json:"from"`
	To         time.Time  `json:"to"`
	Rows       int        `json:"rows"`
	TrainRows  int        `json:"train_rows"`
	ValRows    int        `json:"val_rows"`
	Report     ltr.Report `json:"report"`
	Version    string     `json:"version,omitempty"`
	Published  bool       `json:"published"`
	ExportPath string     `json:"export_path,omitempty"`
}

// TrainUseCase builds a dataset, fits a model and publishes it.
type TrainUseCase struct {
	builder  ports.DatasetBuilder
	models   ports.ModelStore
	exporter ports.DatasetExporter
	opts     ltr.TrainOptions
	now      func() time.Time
}

func NewTrainUseCase(
	builder ports.DatasetBuilder,
	models ports.ModelStore,
	exporter ports.DatasetExporter,
	opts ltr.TrainOptions,
) *TrainUseCase {
	return &TrainUseCase{
		builder:  builder,
		models:   models,
		exporter: exporter,
		opts:     opts,
		now:      time.Now,
	}
}

// Run returns the outcome even when training stops on insufficient data, so
// dry runs can still report dataset counts.
func (uc *TrainUseCase) Run(ctx context.Context, req TrainRequest) (*TrainOutcome, error) {
	if req.Days <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "train", fmt.Errorf("days must be positive, got %d", req.Days))
	}
	now := uc.now().UTC()
	out := &TrainOutcome{From: now.AddDate(0, 0, -req.Days), To: now}

	ds, err := uc.builder.Build(ctx, out.From, out.To)
	if err != nil {
		return out, fmt.Errorf("build dataset: %w", err)
	}
	out.Rows = len(ds.Rows)
	out.TrainRows = len(ds.Train())
	out.ValRows = len(ds.Val())

	if req.ExportPath != "" && uc.exporter != nil {
		if err := uc.exporter.Export(ds, req.ExportPath); err != nil {
			return out, fmt.Errorf("export dataset: %w", err)
		}
		out.ExportPath = req.ExportPath
	}

	model, report, err := ltr.Train(ds, uc.opts)
	out.Report = report
	if err != nil {
		return out, err
	}
	slog.Info("model_trained",
		"train_rows", report.TrainRows,
		"val_rows", report.ValRows,
		"ndcg_at_5", report.NDCG5,
		"mrr", report.MRR,
		"dry_run", req.DryRun,
	)
	if req.DryRun {
		return out, nil
	}

	model.Version = ltr.NewVersion(now)
	model.TrainedAt = now.Format(time.RFC3339)
	var buf bytes.Buffer
	if err := model.Encode(&buf); err != nil {
		return out, fmt.Errorf("encode model: %w", err)
	}
	if err := uc.models.SaveArtifact(ctx, model.Version, &buf); err != nil {
		return out, fmt.Errorf("save model artifact: %w", err)
	}
	if err := uc.models.SetCurrentVersion(ctx, model.Version); err != nil {
		return out, fmt.Errorf("publish model pointer: %w", err)
	}
	out.Version = model.Version
	out.Published = true
	slog.Info("model_published", "version", model.Version)
	return out, nil
}
