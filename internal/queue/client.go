package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Client is the process-wide producer connection. The scheduler and the
// admin API's force-check share it; only the supervisor closes it.
type Client struct {
	client *asynq.Client
	logger *zap.SugaredLogger
}

// NewClient builds the producer from a redis:// URL. The underlying
// connection is established lazily on first enqueue.
func NewClient(redisURL string, logger *zap.SugaredLogger) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Client{
		client: asynq.NewClient(opt),
		logger: logger.With("component", "queue"),
	}, nil
}

// Enqueue appends a health-check job. critical routes it to the
// strict-priority queue used by force-checks.
func (c *Client) Enqueue(ctx context.Context, job HealthCheckJob, critical bool) error {
	return c.enqueue(ctx, job, critical, TaskID(job.LinkID, time.Now()))
}

func (c *Client) enqueue(ctx context.Context, job HealthCheckJob, critical bool, taskID string) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	qname := QueueDefault
	if critical {
		qname = QueueCritical
	}

	_, err = c.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeHealthCheck, payload),
		asynq.Queue(qname),
		asynq.TaskID(taskID),
		asynq.MaxRetry(maxAttempts-1),
		asynq.Timeout(taskTimeout),
		asynq.Retention(completedRetention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Same monitor enqueued within the same millisecond; already
		// queued is exactly the state we wanted.
		c.logger.Debugw("duplicate task suppressed", "task_id", taskID, "queue", qname)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskID, err)
	}
	return nil
}

// Close releases the producer connection. Called once at shutdown.
func (c *Client) Close() error {
	return c.client.Close()
}
