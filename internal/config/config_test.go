package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/linkwatch")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RedisURL != "redis://127.0.0.1:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.Port != 3001 {
		t.Errorf("Port = %d, want 3001", cfg.Port)
	}
	if cfg.SchedulerInterval != 10*time.Second {
		t.Errorf("SchedulerInterval = %v, want 10s", cfg.SchedulerInterval)
	}
	if cfg.SchedulerBatchSize != 500 {
		t.Errorf("SchedulerBatchSize = %d, want 500", cfg.SchedulerBatchSize)
	}
	if cfg.LockDuration != 30*time.Second {
		t.Errorf("LockDuration = %v, want 30s", cfg.LockDuration)
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("WorkerConcurrency = %d, want 10", cfg.WorkerConcurrency)
	}
	if cfg.QueueRateLimitMax != 100 || cfg.QueueRateLimitWindow != time.Second {
		t.Errorf("rate limit = %d/%v, want 100/1s", cfg.QueueRateLimitMax, cfg.QueueRateLimitWindow)
	}
	if cfg.CheckTimeout != 10*time.Second {
		t.Errorf("CheckTimeout = %v, want 10s", cfg.CheckTimeout)
	}
	if cfg.DegradedThreshold != 3*time.Second {
		t.Errorf("DegradedThreshold = %v, want 3s", cfg.DegradedThreshold)
	}
	if !cfg.RunAPI || !cfg.RunScheduler || !cfg.RunWorker {
		t.Error("all roles should default to enabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/linkwatch")
	t.Setenv("SCHEDULER_INTERVAL_MS", "5000")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("RUN_SCHEDULER", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SchedulerInterval != 5*time.Second {
		t.Errorf("SchedulerInterval = %v, want 5s", cfg.SchedulerInterval)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Errorf("WorkerConcurrency = %d, want 4", cfg.WorkerConcurrency)
	}
	if cfg.RunScheduler {
		t.Error("RUN_SCHEDULER=false not honored")
	}
	if !cfg.RunAPI || !cfg.RunWorker {
		t.Error("disabling one role must not disable the others")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/linkwatch")
	t.Setenv("PORT", "not-a-number")
	t.Setenv("RUN_WORKER", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 3001 {
		t.Errorf("Port = %d, want default on parse failure", cfg.Port)
	}
	if !cfg.RunWorker {
		t.Error("RunWorker should fall back to default on parse failure")
	}
}

func TestLoadRejectsInvalidSizes(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/linkwatch")
	t.Setenv("SCHEDULER_BATCH_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero batch size")
	}

	t.Setenv("SCHEDULER_BATCH_SIZE", "500")
	t.Setenv("WORKER_CONCURRENCY", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative concurrency")
	}
}
