package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/bootstrap"
	"github.com/kirillkom/lostfound-matcher/internal/config"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/queue/nats"
	"github.com/kirillkom/lostfound-matcher/internal/observability/logging"
	"github.com/kirillkom/lostfound-matcher/internal/observability/metrics"
)

const service = "worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(service, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: service, WithQueue: true})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.Queue == nil {
		slog.Error("worker_requires_nats", "hint", "set NATS_URL")
		os.Exit(1)
	}
	if !app.Feedback.Available() {
		slog.Error("worker_requires_postgres", "hint", "set POSTGRES_DSN")
		os.Exit(1)
	}

	workerMetrics := metrics.NewWorkerMetrics(service)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "metrics_port", cfg.WorkerMetricsPort)
	err = app.Queue.SubscribeImpressions(ctx, func(handlerCtx context.Context, d nats.Delivery) error {
		workerMetrics.ObserveQueueLag(service, time.Since(d.PublishedAt))
		workerMetrics.StartImpression()
		start := time.Now()

		writeCtx, cancel := context.WithTimeout(handlerCtx, cfg.ImpressionWriteTimeout)
		defer cancel()
		err := app.FeedbackUC.PersistImpression(writeCtx, d.Impression)
		workerMetrics.FinishImpression(service, time.Since(start), err)
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}
}
