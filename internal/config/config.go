package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/resilience"
)

type Config struct {
	APIPort  string
	LogLevel string

	// Empty selects disconnected mode: no attribute reads, no feedback logging.
	PostgresDSN string

	// Empty keeps impression writers in-process.
	NATSURL        string
	NATSSubject    string
	NATSClientName string

	// Empty selects the in-memory normalization cache.
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	NormalizeCacheTTL time.Duration
	MemoryCacheSize   int

	OllamaURL        string
	OllamaGenModel   string
	OllamaEmbedModel string
	OllamaTimeout    time.Duration

	QdrantURL        string
	QdrantCollection string
	QdrantTimeout    time.Duration

	LTRRolloutPct       float64
	LTRInferenceTimeout time.Duration
	RetrievalTopVector  int
	RetrievalTopKeyword int
	KeywordTimeout      time.Duration
	SearchDefaultLimit  int

	ImpressionQueueSize    int
	ImpressionWorkers      int
	ImpressionWriteTimeout time.Duration

	ModelDir          string
	ModelWatch        bool
	MinTrainPositives int
	TrainEpochs       int
	TrainLearningRate float64
	TrainL2           float64
	ValFraction       float64

	BackfillRPS   float64
	BackfillBatch int
	ReindexBatch  int

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	AdminToken        string

	Resilience resilience.Config

	WorkerMetricsPort string
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSURL:        mustEnv("NATS_URL", ""),
		NATSSubject:    mustEnv("NATS_SUBJECT", "impressions.log"),
		NATSClientName: mustEnv("NATS_CLIENT_NAME", "lostfound-matcher"),

		RedisAddr:         mustEnv("REDIS_ADDR", ""),
		RedisPassword:     mustEnv("REDIS_PASSWORD", ""),
		RedisDB:           mustEnvInt("REDIS_DB", 0),
		NormalizeCacheTTL: mustEnvDuration("NORMALIZE_CACHE_TTL", 24*time.Hour),
		MemoryCacheSize:   mustEnvInt("MEMORY_CACHE_SIZE", 10000),

		OllamaURL:        mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:   mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		OllamaEmbedModel: mustEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		OllamaTimeout:    mustEnvDuration("OLLAMA_TIMEOUT", 20*time.Second),

		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "found_items"),
		QdrantTimeout:    mustEnvDuration("QDRANT_TIMEOUT", 5*time.Second),

		LTRRolloutPct:       mustEnvFloat("LTR_ROLLOUT_PCT", 0),
		LTRInferenceTimeout: mustEnvDuration("LTR_INFERENCE_TIMEOUT", 200*time.Millisecond),
		RetrievalTopVector:  mustEnvInt("RETRIEVAL_TOP_VECTOR", 50),
		RetrievalTopKeyword: mustEnvInt("RETRIEVAL_TOP_KEYWORD", 50),
		KeywordTimeout:      mustEnvDuration("RETRIEVAL_KEYWORD_TIMEOUT", 2*time.Second),
		SearchDefaultLimit:  mustEnvInt("SEARCH_DEFAULT_LIMIT", 10),

		ImpressionQueueSize:    mustEnvInt("IMPRESSION_QUEUE_SIZE", 256),
		ImpressionWorkers:      mustEnvInt("IMPRESSION_WORKERS", 2),
		ImpressionWriteTimeout: mustEnvDuration("IMPRESSION_WRITE_TIMEOUT", 3*time.Second),

		ModelDir:          mustEnv("MODEL_DIR", "./data/models"),
		ModelWatch:        mustEnvBool("MODEL_WATCH", true),
		MinTrainPositives: mustEnvInt("MIN_TRAIN_POSITIVES", 50),
		TrainEpochs:       mustEnvInt("TRAIN_EPOCHS", 200),
		TrainLearningRate: mustEnvFloat("TRAIN_LEARNING_RATE", 0.1),
		TrainL2:           mustEnvFloat("TRAIN_L2", 0.001),
		ValFraction:       mustEnvFloat("TRAIN_VAL_FRACTION", 0.2),

		BackfillRPS:   mustEnvFloat("BACKFILL_RPS", 2),
		BackfillBatch: mustEnvInt("BACKFILL_BATCH", 100),
		ReindexBatch:  mustEnvInt("REINDEX_BATCH", 64),

		APIRateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 40),
		AdminToken:        mustEnv("ADMIN_TOKEN", ""),

		Resilience: resilience.Config{
			RetryMaxAttempts:        mustEnvInt("RESILIENCE_RETRY_MAX_ATTEMPTS", 3),
			RetryInitialBackoff:     mustEnvDuration("RESILIENCE_RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
			RetryMaxBackoff:         mustEnvDuration("RESILIENCE_RETRY_MAX_BACKOFF", 400*time.Millisecond),
			RetryMultiplier:         mustEnvFloat("RESILIENCE_RETRY_MULTIPLIER", 2),
			Overrides:               requestPathRetries(mustEnvInt("RESILIENCE_REQUEST_RETRY_MAX_ATTEMPTS", 2)),
			BreakerEnabled:          mustEnvBool("RESILIENCE_BREAKER_ENABLED", true),
			BreakerMinRequests:      uint32(mustEnvInt("RESILIENCE_BREAKER_MIN_REQUESTS", 10)),
			BreakerFailureRatio:     mustEnvFloat("RESILIENCE_BREAKER_FAILURE_RATIO", 0.5),
			BreakerOpenTimeout:      mustEnvDuration("RESILIENCE_BREAKER_OPEN_TIMEOUT", 30*time.Second),
			BreakerHalfOpenMaxCalls: uint32(mustEnvInt("RESILIENCE_BREAKER_HALF_OPEN_MAX_CALLS", 2)),
		},

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

// requestPathRetries caps attempts for the calls a /search request waits on.
func requestPathRetries(attempts int) map[string]resilience.RetryPolicy {
	p := resilience.RetryPolicy{MaxAttempts: attempts}
	return map[string]resilience.RetryPolicy{
		"qdrant.search":      p,
		"ollama.embed_query": p,
		"ollama.normalize":   p,
	}
}

func mustEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go durations ("250ms") or whole seconds ("30").
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
