package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/lostfound-matcher/internal/adapters/http"
	"github.com/kirillkom/lostfound-matcher/internal/bootstrap"
	"github.com/kirillkom/lostfound-matcher/internal/config"
	"github.com/kirillkom/lostfound-matcher/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "api", WithQueue: true})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	app.Start(ctx)

	router := httpadapter.NewRouter(app.SearchUC, app.FeedbackUC, app.Ranker, app.Metrics, httpadapter.Options{
		Service:        "api",
		DefaultLimit:   cfg.SearchDefaultLimit,
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		AdminToken:     cfg.AdminToken,
		Breakers:       app.Breakers,
	}).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "addr", server.Addr, "rollout_pct", cfg.LTRRolloutPct, "model", app.Ranker.Version())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
