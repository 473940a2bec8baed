// Package worker binds the queue to the probe engine and the two sinks.
// A successful probe is the valuable signal: sink outages are logged and
// counted but never fail the job, so a downstream outage cannot cause a
// re-probing storm.
package worker

import (
	"context"
	"errors"
	"time"

	"linkwatch/internal/convex"
	"linkwatch/internal/events"
	"linkwatch/internal/observability"
	"linkwatch/internal/probe"
	"linkwatch/internal/queue"
	"linkwatch/internal/store"

	"go.uber.org/zap"
)

// Store is the slice of the monitor store the worker needs.
type Store interface {
	GetMonitor(ctx context.Context, id string) (*store.Monitor, error)
	RecordProbeResult(ctx context.Context, id string, out store.ProbeOutcome, checkedAt time.Time) error
}

// Engine produces a ProbeResult for a URL.
type Engine interface {
	Check(ctx context.Context, url string) probe.Result
}

// HistorySink receives one permanent record per probe.
type HistorySink interface {
	RecordHealthCheck(ctx context.Context, rec convex.HealthCheckRecord) error
}

// EventPublisher broadcasts status events. Best-effort.
type EventPublisher interface {
	PublishStatusChange(ctx context.Context, ev events.StatusEvent) error
}

// Worker handles dequeued health-check jobs.
type Worker struct {
	store        Store
	engine       Engine
	history      map[string]HistorySink // environment -> sink; missing = disabled
	sharedSecret string
	events       EventPublisher // nil disables event publishing
	logger       *zap.SugaredLogger
}

// New builds a Worker. history maps environment names to sink clients;
// environments without a configured deployment are simply absent.
func New(st Store, engine Engine, history map[string]HistorySink, sharedSecret string, pub EventPublisher, logger *zap.SugaredLogger) *Worker {
	return &Worker{
		store:        st,
		engine:       engine,
		history:      history,
		sharedSecret: sharedSecret,
		events:       pub,
		logger:       logger.With("component", "worker"),
	}
}

// Handle processes one job: re-check the monitor, probe, then fan the
// result to the state sink and the history sink independently. Only a
// failure before the probe can reach the queue's retry policy.
func (w *Worker) Handle(ctx context.Context, job queue.HealthCheckJob) error {
	// The monitor may have been deactivated or deleted between enqueue and
	// dequeue; ack and drop rather than probe a retired URL. A read error
	// is tolerated: if the DB is down the state sink will miss anyway and
	// the lease expiry re-schedules.
	m, err := w.store.GetMonitor(ctx, job.LinkID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		w.logger.Warnw("monitor gone, dropping job", "link_id", job.LinkID)
		return nil
	case err != nil:
		w.logger.Warnw("monitor re-check failed, probing anyway", "link_id", job.LinkID, "error", err)
	case !m.IsActive:
		w.logger.Infow("monitor inactive, dropping job", "link_id", job.LinkID)
		return nil
	}

	res := w.engine.Check(ctx, job.LongURL)
	checkedAt := time.Now()

	w.logger.Infow("probe completed",
		"link_id", job.LinkID,
		"status", res.HealthStatus,
		"status_code", res.StatusCode,
		"latency_ms", res.LatencyMS,
	)

	w.updateState(ctx, job, res, checkedAt)
	w.recordHistory(ctx, job, res, checkedAt)
	w.publishEvent(ctx, job, res, checkedAt)
	return nil
}

func (w *Worker) updateState(ctx context.Context, job queue.HealthCheckJob, res probe.Result, checkedAt time.Time) {
	out := store.ProbeOutcome{
		Status:     res.HealthStatus,
		StatusCode: res.StatusCode,
		LatencyMS:  res.LatencyMS,
		IsHealthy:  res.IsHealthy,
	}
	if err := w.store.RecordProbeResult(ctx, job.LinkID, out, checkedAt); err != nil {
		observability.StateSinkFailures.Inc()
		w.logger.Errorw("state sink update failed", "link_id", job.LinkID, "error", err)
	}
}

func (w *Worker) recordHistory(ctx context.Context, job queue.HealthCheckJob, res probe.Result, checkedAt time.Time) {
	sink, ok := w.history[job.Environment]
	if !ok || sink == nil {
		w.logger.Debugw("history sink disabled for environment",
			"link_id", job.LinkID, "environment", job.Environment)
		return
	}

	rec := convex.HealthCheckRecord{
		SharedSecret: w.sharedSecret,
		URLID:        job.ConvexURLID,
		UserID:       job.ConvexUserID,
		ShortURL:     job.ShortURL,
		LongURL:      job.LongURL,
		StatusCode:   res.StatusCode,
		LatencyMS:    res.LatencyMS,
		IsHealthy:    res.IsHealthy,
		HealthStatus: res.HealthStatus,
		ErrorMessage: res.ErrorMessage,
		CheckedAt:    checkedAt.UnixMilli(),
	}
	if err := sink.RecordHealthCheck(ctx, rec); err != nil {
		observability.HistorySinkFailures.WithLabelValues(job.Environment).Inc()
		w.logger.Errorw("history sink write failed",
			"link_id", job.LinkID, "environment", job.Environment, "error", err)
	}
}

func (w *Worker) publishEvent(ctx context.Context, job queue.HealthCheckJob, res probe.Result, checkedAt time.Time) {
	if w.events == nil {
		return
	}
	ev := events.StatusEvent{
		LinkID:     job.LinkID,
		ShortURL:   job.ShortURL,
		Status:     res.HealthStatus,
		StatusCode: res.StatusCode,
		LatencyMS:  res.LatencyMS,
		IsHealthy:  res.IsHealthy,
		CheckedAt:  checkedAt.UnixMilli(),
	}
	if err := w.events.PublishStatusChange(ctx, ev); err != nil {
		observability.EventPublishFailures.Inc()
		w.logger.Debugw("status event publish failed", "link_id", job.LinkID, "error", err)
	}
}
