// Package cli holds the offline ranking jobs behind the ltrctl command.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/core/usecase"
)

type Backfiller interface {
	Run(ctx context.Context, maxItems int) (usecase.BackfillReport, error)
}

type Trainer interface {
	Run(ctx context.Context, req usecase.TrainRequest) (*usecase.TrainOutcome, error)
}

type Reindexer interface {
	Run(ctx context.Context) (int, error)
}

type Services struct {
	Backfill Backfiller
	Train    Trainer
	Reindex  Reindexer
}

// Opener builds the services on first use. The returned func releases them.
type Opener func(ctx context.Context) (Services, func(), error)

// NewRootCommand returns the ltrctl command tree and a func that releases
// whatever the command opened. Services are opened lazily so that help and
// flag errors never touch the backing stores.
func NewRootCommand(open Opener) (*cobra.Command, func()) {
	var (
		services Services
		release  func()
	)
	root := &cobra.Command{
		Use:           "ltrctl",
		Short:         "Offline jobs for the lost and found ranker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, closeFn, err := open(cmd.Context())
			if err != nil {
				return fmt.Errorf("open services: %w", err)
			}
			services, release = s, closeFn
			return nil
		},
	}

	root.AddCommand(
		newBackfillCommand(func() Backfiller { return services.Backfill }),
		newTrainCommand(func() Trainer { return services.Train }),
		newReindexCommand(func() Reindexer { return services.Reindex }),
	)
	return root, func() {
		if release != nil {
			release()
			release = nil
		}
	}
}

func newBackfillCommand(svc func() Backfiller) *cobra.Command {
	var maxItems int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Extract attributes for found items stored without them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := svc().Run(cmd.Context(), maxItems)
			if err != nil {
				return fmt.Errorf("backfill failed: %w", err)
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "stop after this many items (0 = all)")
	return cmd
}

func newTrainCommand(svc func() Trainer) *cobra.Command {
	var req usecase.TrainRequest
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Build a dataset from logged selections and train a ranking model",
		Long: `Builds a query-disjoint train/val dataset from the last N days of
impressions and selections, fits a listwise linear model and publishes it
as the current model. --dry-run reports counts and metrics only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outcome, err := svc().Run(cmd.Context(), req)
			if outcome != nil {
				if printErr := printJSON(cmd, outcome); printErr != nil {
					return printErr
				}
			}
			if err == nil {
				return nil
			}
			var insufficient *domain.InsufficientDataError
			if errors.As(err, &insufficient) {
				return fmt.Errorf("not enough data to train: %w", err)
			}
			return fmt.Errorf("train failed: %w", err)
		},
	}
	cmd.Flags().IntVar(&req.Days, "days", 30, "size of the training window in days")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "train without publishing the model")
	cmd.Flags().StringVar(&req.ExportPath, "export", "", "write the dataset to this .xlsx file")
	return cmd
}

func newReindexCommand(svc func() Reindexer) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed every found item into the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := svc().Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("reindex failed after %d items: %w", n, err)
			}
			return printJSON(cmd, map[string]int{"indexed": n})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
