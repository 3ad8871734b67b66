package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/lostfound-matcher/internal/adapters/cli"
	"github.com/kirillkom/lostfound-matcher/internal/bootstrap"
	"github.com/kirillkom/lostfound-matcher/internal/config"
	"github.com/kirillkom/lostfound-matcher/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewLogger(os.Stderr, "ltrctl", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, release := cli.NewRootCommand(func(ctx context.Context) (cli.Services, func(), error) {
		app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "ltrctl"})
		if err != nil {
			return cli.Services{}, nil, err
		}
		return cli.Services{
			Backfill: app.BackfillUC,
			Train:    app.TrainUC,
			Reindex:  app.ReindexUC,
		}, app.Close, nil
	})

	err := root.ExecuteContext(ctx)
	release()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
