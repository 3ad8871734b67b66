package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/lostfound-matcher/internal/config"
	"github.com/kirillkom/lostfound-matcher/internal/core/ltr"
	"github.com/kirillkom/lostfound-matcher/internal/core/ports"
	"github.com/kirillkom/lostfound-matcher/internal/core/usecase"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/cache/memcache"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/cache/rediscache"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/queue/nats"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/resilience"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/lostfound-matcher/internal/observability/metrics"
)

type Options struct {
	Service string
	// WithQueue connects to NATS when NATS_URL is set.
	WithQueue bool
}

type App struct {
	Config  config.Config
	Service string
	Metrics *metrics.HTTPServerMetrics

	Items    ports.FoundItemStore
	Feedback ports.FeedbackStore
	// Queue is nil when NATS is not configured or not requested.
	Queue *nats.Queue

	Models *localfs.ModelStore
	Ranker *ltr.Ranker

	FeedbackUC *usecase.FeedbackUseCase
	RankUC     *usecase.RankUseCase
	SearchUC   *usecase.SearchUseCase
	DatasetUC  *usecase.DatasetUseCase
	TrainUC    *usecase.TrainUseCase
	BackfillUC *usecase.BackfillUseCase
	ReindexUC  *usecase.ReindexUseCase

	executor *resilience.Executor
	closers  []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if opts.Service == "" {
		opts.Service = "api"
	}
	app := &App{
		Config:  cfg,
		Service: opts.Service,
		Metrics: metrics.NewHTTPServerMetrics(opts.Service),
	}

	resCfg := cfg.Resilience
	resCfg.OnBreakerStateChange = func(operation, from, to string) {
		app.Metrics.RecordBreakerTransition(opts.Service, operation, to)
	}
	executor := resilience.NewExecutor(resCfg)
	app.executor = executor

	if err := app.openStores(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}

	cache, err := app.openCache(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	var publisher ports.ImpressionPublisher
	if opts.WithQueue && cfg.NATSURL != "" {
		queue, err := nats.Connect(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ClientName: cfg.NATSClientName + "-" + opts.Service,
			Executor:   executor,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init impression queue: %w", err)
		}
		app.Queue = queue
		publisher = queue
		app.closers = append(app.closers, queue.Close)
	}

	models, err := localfs.NewModelStore(cfg.ModelDir)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init model store: %w", err)
	}
	app.Models = models
	app.Ranker = ltr.NewRanker(models, cfg.LTRInferenceTimeout)

	ollamaClient := ollama.New(
		cfg.OllamaURL,
		cfg.OllamaGenModel,
		cfg.OllamaEmbedModel,
		ollama.WithResilience(executor),
		ollama.WithTimeout(cfg.OllamaTimeout),
	)
	normalizer := ollama.NewNormalizer(ollamaClient)
	embedder := ollama.NewEmbedder(ollamaClient)
	vectors := qdrant.New(
		cfg.QdrantURL,
		cfg.QdrantCollection,
		qdrant.WithResilience(executor),
		qdrant.WithTimeout(cfg.QdrantTimeout),
	)

	var keywords ports.KeywordIndex
	if app.Items.Available() {
		keywords, _ = app.Items.(ports.KeywordIndex)
	}

	app.FeedbackUC = usecase.NewFeedbackUseCase(app.Feedback, publisher, usecase.FeedbackConfig{
		QueueSize:    cfg.ImpressionQueueSize,
		Workers:      cfg.ImpressionWorkers,
		WriteTimeout: cfg.ImpressionWriteTimeout,
		OnOutcome: func(outcome string) {
			app.Metrics.RecordImpression(opts.Service, outcome)
		},
	})
	app.closers = append(app.closers, app.FeedbackUC.Close)

	normalizeUC := usecase.NewNormalizeUseCase(normalizer, cache, cfg.NormalizeCacheTTL)
	retriever := usecase.NewRetrieverUseCase(embedder, vectors, keywords, cfg.KeywordTimeout)
	app.RankUC = usecase.NewRankUseCase(normalizeUC, retriever, app.Items, app.Ranker, app.FeedbackUC, usecase.RankConfig{
		RolloutPct:  cfg.LTRRolloutPct,
		TopVector:   cfg.RetrievalTopVector,
		TopKeyword:  cfg.RetrievalTopKeyword,
		DefaultTopK: cfg.SearchDefaultLimit,
	})
	app.SearchUC = usecase.NewSearchUseCase(app.RankUC, normalizeUC, embedder, vectors, app.Items)

	app.DatasetUC = usecase.NewDatasetUseCase(app.Feedback, app.Items, cfg.ValFraction)
	app.TrainUC = usecase.NewTrainUseCase(app.DatasetUC, models, xlsx.NewExporter(), ltr.TrainOptions{
		MinPositives: cfg.MinTrainPositives,
		Epochs:       cfg.TrainEpochs,
		LearningRate: cfg.TrainLearningRate,
		L2:           cfg.TrainL2,
	})
	app.BackfillUC = usecase.NewBackfillUseCase(app.Items, normalizer, cfg.BackfillRPS, cfg.BackfillBatch)
	app.ReindexUC = usecase.NewReindexUseCase(app.Items, embedder, vectors, cfg.ReindexBatch)

	return app, nil
}

func (a *App) openStores(ctx context.Context, cfg config.Config) error {
	if cfg.PostgresDSN == "" {
		slog.Warn("postgres_not_configured_running_disconnected")
		a.Items = postgres.Disconnected{}
		a.Feedback = postgres.Disconnected{}
		return nil
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	a.Items = postgres.NewFoundItemRepository(db)
	a.Feedback = postgres.NewFeedbackRepository(db)
	return nil
}

func (a *App) openCache(cfg config.Config) (ports.NormalizationCache, error) {
	if cfg.RedisAddr == "" {
		return memcache.New(cfg.MemoryCacheSize), nil
	}
	cache, err := rediscache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("init redis cache: %w", err)
	}
	a.closers = append(a.closers, func() { _ = cache.Close() })
	return cache, nil
}

// Start loads the current model, starts the impression writers and, when
// enabled, follows model pointer changes until ctx is done.
func (a *App) Start(ctx context.Context) {
	a.reloadModel(ctx)
	a.FeedbackUC.Start()
	if !a.Config.ModelWatch {
		return
	}
	go func() {
		err := a.Models.Watch(ctx, func() { a.reloadModel(ctx) })
		if err != nil {
			slog.Error("model_watch_stopped", "error", err)
		}
	}()
}

func (a *App) reloadModel(ctx context.Context) {
	err := a.Ranker.Reload(ctx)
	a.Metrics.RecordModelReload(a.Service, err)
	if err != nil {
		slog.Warn("learned_model_not_loaded", "error", err)
	}
}

// Breakers maps each called operation to its breaker state.
func (a *App) Breakers() map[string]string {
	out := make(map[string]string)
	for _, st := range a.executor.States() {
		out[st.Operation] = st.State
	}
	return out
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
