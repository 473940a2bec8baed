package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all process configuration, parsed once at boot from the
// environment. Components receive the values they need; nothing reads the
// environment after startup.
type Config struct {
	DatabaseURL string
	RedisURL    string

	ConvexURLDev  string
	ConvexURLProd string

	MonitoringSharedSecret string
	MonitoringAPISecret    string

	Port int

	SchedulerInterval  time.Duration
	SchedulerBatchSize int
	LockDuration       time.Duration

	WorkerConcurrency    int
	QueueRateLimitMax    int
	QueueRateLimitWindow time.Duration

	CheckTimeout      time.Duration
	DegradedThreshold time.Duration

	LogLevel  string
	SentryDSN string

	RunAPI       bool
	RunScheduler bool
	RunWorker    bool
}

// Load parses the environment. A missing DATABASE_URL is the only fatal
// condition; everything else falls back to a default.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL: dbURL,
		RedisURL:    envStr("REDIS_URL", "redis://127.0.0.1:6379/0"),

		ConvexURLDev:  os.Getenv("CONVEX_URL_DEV"),
		ConvexURLProd: os.Getenv("CONVEX_URL_PROD"),

		MonitoringSharedSecret: os.Getenv("MONITORING_SHARED_SECRET"),
		MonitoringAPISecret:    os.Getenv("MONITORING_API_SECRET"),

		Port: envInt("PORT", 3001),

		SchedulerInterval:  envDurationMS("SCHEDULER_INTERVAL_MS", 10000),
		SchedulerBatchSize: envInt("SCHEDULER_BATCH_SIZE", 500),
		LockDuration:       envDurationMS("LOCK_DURATION_MS", 30000),

		WorkerConcurrency:    envInt("WORKER_CONCURRENCY", 10),
		QueueRateLimitMax:    envInt("QUEUE_RATE_LIMIT_MAX", 100),
		QueueRateLimitWindow: envDurationMS("QUEUE_RATE_LIMIT_DURATION", 1000),

		CheckTimeout:      envDurationMS("CHECK_TIMEOUT_MS", 10000),
		DegradedThreshold: envDurationMS("DEGRADED_THRESHOLD_MS", 3000),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		SentryDSN: os.Getenv("SENTRY_DSN"),

		RunAPI:       envBool("RUN_API", true),
		RunScheduler: envBool("RUN_SCHEDULER", true),
		RunWorker:    envBool("RUN_WORKER", true),
	}

	if cfg.SchedulerBatchSize < 1 {
		return nil, fmt.Errorf("SCHEDULER_BATCH_SIZE must be >= 1, got %d", cfg.SchedulerBatchSize)
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", cfg.WorkerConcurrency)
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationMS(key string, defMS int) time.Duration {
	return time.Duration(envInt(key, defMS)) * time.Millisecond
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
