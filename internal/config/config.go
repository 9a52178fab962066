package config

import (
	"os"
	"strconv"
	"time"

	"github.com/kirillkom/document-scanner/internal/infrastructure/resilience"
)

type Config struct {
	APIPort  string
	LogLevel string

	StoragePath string
	MaxUploadMB int

	BatchSize        int
	AssumedDocCostMS int
	AnalyzerProfile  string

	NATSURL           string
	NATSIngestSubject string
	NATSEventsSubject string

	PostgresDSN string

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int
	APIQueueWait      time.Duration
	ShutdownTimeout   time.Duration

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	BreakerEnabled      bool

	WorkerMetricsPort string
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		StoragePath: mustEnv("STORAGE_PATH", "./data/storage"),
		MaxUploadMB: mustEnvInt("MAX_UPLOAD_MB", 64),

		BatchSize:        mustEnvInt("BATCH_SIZE", 3),
		AssumedDocCostMS: mustEnvInt("ASSUMED_DOC_COST_MS", 500),
		AnalyzerProfile:  mustEnv("ANALYZER_PROFILE", ""),

		NATSURL:           mustEnv("NATS_URL", ""),
		NATSIngestSubject: mustEnv("NATS_INGEST_SUBJECT", "scanner.ingest"),
		NATSEventsSubject: mustEnv("NATS_EVENTS_SUBJECT", "scanner.events"),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		APIRateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:    mustEnvInt("API_MAX_IN_FLIGHT", 32),
		APIQueueWait:      mustEnvDuration("API_QUEUE_WAIT", 250*time.Millisecond),
		ShutdownTimeout:   mustEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		RetryMaxAttempts:    mustEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoff: mustEnvDuration("RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
		BreakerEnabled:      mustEnvBool("BREAKER_ENABLED", true),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

// AssumedDocCost is the per-document estimate used before any batch settles.
func (c Config) AssumedDocCost() time.Duration {
	return time.Duration(c.AssumedDocCostMS) * time.Millisecond
}

func (c Config) ResiliencePolicy() resilience.Policy {
	p := resilience.DefaultPolicy()
	p.Attempts = c.RetryMaxAttempts
	p.InitialBackoff = c.RetryInitialBackoff
	p.Breaker.Enabled = c.BreakerEnabled
	return p
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
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
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
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

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
