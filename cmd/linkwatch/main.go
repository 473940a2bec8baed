// Command linkwatch runs the uptime monitoring service. One binary carries
// all three roles (API, scheduler, worker); RUN_* env gates select which a
// given replica runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"linkwatch/internal/api"
	"linkwatch/internal/config"
	"linkwatch/internal/convex"
	"linkwatch/internal/events"
	"linkwatch/internal/logging"
	"linkwatch/internal/observability"
	"linkwatch/internal/probe"
	"linkwatch/internal/queue"
	"linkwatch/internal/scheduler"
	"linkwatch/internal/store"
	"linkwatch/internal/worker"

	"go.uber.org/zap"
)

const metricsCollectInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infow("linkwatch starting",
		"api", cfg.RunAPI, "scheduler", cfg.RunScheduler, "worker", cfg.RunWorker)

	st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	qc, err := queue.NewClient(cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("queue client: %w", err)
	}
	defer qc.Close()

	inspector, err := queue.NewInspector(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("queue inspector: %w", err)
	}
	defer inspector.Close()

	publisher, err := events.NewPublisher(cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("events publisher: %w", err)
	}
	defer publisher.Close()

	var wg sync.WaitGroup

	var qsrv *queue.Server
	if cfg.RunWorker {
		qsrv, err = startWorker(cfg, st, publisher, logger)
		if err != nil {
			return err
		}
	}

	if cfg.RunScheduler {
		sched := scheduler.New(st, qc, scheduler.Config{
			Interval:     cfg.SchedulerInterval,
			BatchSize:    cfg.SchedulerBatchSize,
			LockDuration: cfg.LockDuration,
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	var httpSrv *http.Server
	var subscriber *events.Subscriber
	if cfg.RunAPI {
		hub := api.NewHub(logger)
		subscriber, err = events.NewSubscriber(cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("events subscriber: %w", err)
		}
		defer subscriber.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Run(ctx, subscriber.Subscribe(ctx))
		}()

		a := api.New(st, qc, hub, cfg.MonitoringAPISecret, logger)
		httpSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           a.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Infow("admin API listening", "addr", httpSrv.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("http server failed", "error", err)
				stop()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		collectMetrics(ctx, st, inspector, logger)
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Order: stop accepting HTTP first, then drain in-flight jobs, then let
	// the scheduler and hub loops observe cancellation.
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("http shutdown", "error", err)
		}
		cancel()
	}
	if qsrv != nil {
		qsrv.Shutdown()
	}
	wg.Wait()

	logger.Info("linkwatch stopped")
	return nil
}

// startWorker wires the probe engine, sinks, and queue consumer.
func startWorker(cfg *config.Config, st store.Store, publisher *events.Publisher, logger *zap.SugaredLogger) (*queue.Server, error) {
	history := make(map[string]worker.HistorySink)
	if cfg.ConvexURLDev != "" {
		history[store.EnvDev] = convex.NewClient(cfg.ConvexURLDev, logger)
	}
	if cfg.ConvexURLProd != "" {
		history[store.EnvProd] = convex.NewClient(cfg.ConvexURLProd, logger)
	}
	if len(history) == 0 {
		logger.Warn("no Convex deployment configured, history sink disabled")
	}
	if cfg.MonitoringSharedSecret == "" {
		logger.Warn("MONITORING_SHARED_SECRET not set, history writes may be rejected")
	}

	engine := probe.NewEngine(cfg.CheckTimeout, cfg.DegradedThreshold, logger)
	w := worker.New(st, engine, history, cfg.MonitoringSharedSecret, publisher, logger)

	qsrv, err := queue.NewServer(cfg.RedisURL, queue.ServerConfig{
		Concurrency:     cfg.WorkerConcurrency,
		RateLimitMax:    cfg.QueueRateLimitMax,
		RateLimitWindow: cfg.QueueRateLimitWindow,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("queue server: %w", err)
	}
	if err := qsrv.Start(w.Handle); err != nil {
		return nil, fmt.Errorf("start queue server: %w", err)
	}
	logger.Infow("worker started", "concurrency", cfg.WorkerConcurrency)
	return qsrv, nil
}

// collectMetrics refreshes the queue and monitor gauges on a fixed cadence.
func collectMetrics(ctx context.Context, st store.Store, inspector *queue.Inspector, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(metricsCollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := inspector.PublishDepths(); err != nil {
				logger.Debugw("queue depth collection failed", "error", err)
			}
			if n, err := st.CountActiveMonitors(ctx); err == nil {
				observability.MonitorsActive.Set(float64(n))
			} else {
				logger.Debugw("active monitor count failed", "error", err)
			}
		}
	}
}
