package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"linkwatch/internal/observability"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler processes one dequeued job. A returned error sends the job back
// through the retry policy; nil acknowledges it.
type Handler func(ctx context.Context, job HealthCheckJob) error

// ServerConfig sizes the consumer pool and its dispatch rate limit.
type ServerConfig struct {
	Concurrency     int
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Server is the process-wide consumer connection: a pool of Concurrency
// handlers fed from both queues, critical first, throughput capped across
// the whole pool by a shared token bucket.
type Server struct {
	srv     *asynq.Server
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewServer builds the consumer from a redis:// URL.
func NewServer(redisURL string, cfg ServerConfig, logger *zap.SugaredLogger) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	qlog := logger.With("component", "queue")
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueCritical: 2,
			QueueDefault:  1,
		},
		StrictPriority: true,
		RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
			return retryDelay(n)
		},
		Logger:   qlog,
		LogLevel: asynq.WarnLevel,
	})

	perSecond := float64(cfg.RateLimitMax) / cfg.RateLimitWindow.Seconds()
	return &Server{
		srv:     srv,
		limiter: rate.NewLimiter(rate.Limit(perSecond), cfg.RateLimitMax),
		logger:  qlog,
	}, nil
}

// Start begins consuming with handler. Non-blocking; Shutdown drains.
func (s *Server) Start(handler Handler) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeHealthCheck, func(ctx context.Context, t *asynq.Task) error {
		// The limiter paces dispatch across every worker on the queue.
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		var job HealthCheckJob
		if err := json.Unmarshal(t.Payload(), &job); err != nil {
			// A payload that never parses will never parse; don't retry.
			return fmt.Errorf("unmarshal job payload: %v: %w", err, asynq.SkipRetry)
		}
		return handler(ctx, job)
	})
	return s.srv.Start(mux)
}

// Shutdown stops intake, waits for in-flight handlers, then releases the
// consumer connection.
func (s *Server) Shutdown() {
	s.srv.Stop()
	s.srv.Shutdown()
}

// Inspector reports queue depths for the metrics collector. It holds its
// own connection, owned by the supervisor like the other two.
type Inspector struct {
	insp *asynq.Inspector
}

// NewInspector builds an inspector from a redis:// URL.
func NewInspector(redisURL string) (*Inspector, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Inspector{insp: asynq.NewInspector(opt)}, nil
}

// PublishDepths updates the queue gauges. Missing queues (nothing enqueued
// yet) are reported as empty.
func (i *Inspector) PublishDepths() error {
	for _, qname := range []string{QueueDefault, QueueCritical} {
		info, err := i.insp.GetQueueInfo(qname)
		if err != nil {
			observability.QueueDepth.WithLabelValues(qname).Set(0)
			observability.QueueActive.WithLabelValues(qname).Set(0)
			continue
		}
		observability.QueueDepth.WithLabelValues(qname).Set(float64(info.Pending))
		observability.QueueActive.WithLabelValues(qname).Set(float64(info.Active))
	}
	return nil
}

// Close releases the inspector connection.
func (i *Inspector) Close() error {
	return i.insp.Close()
}
