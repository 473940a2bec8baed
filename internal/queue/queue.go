// Package queue is the durable dispatch queue: asynq over Redis. Jobs
// survive restart, unacknowledged in-flight work is redelivered, handler
// failures are retried with exponential backoff, and force-checks jump the
// line through a strict-priority queue.
package queue

import (
	"fmt"
	"time"
)

// TaskTypeHealthCheck is the asynq task type for health-check jobs.
const TaskTypeHealthCheck = "monitor:healthcheck"

// Queue names. Critical is drained strictly before the default queue so a
// force-check runs ahead of the scheduled backlog.
const (
	QueueDefault  = "healthcheck"
	QueueCritical = "healthcheck:critical"
)

const (
	// maxAttempts is the total delivery attempts per job (1 + retries).
	maxAttempts = 3
	// retryBase is the first retry delay; doubles per attempt.
	retryBase = time.Second
	// completedRetention keeps finished tasks around for forensics.
	completedRetention = time.Hour
	// taskTimeout bounds one handler invocation; generous next to the
	// probe deadline so the queue never cancels a live probe.
	taskTimeout = 2 * time.Minute
)

// HealthCheckJob is the immutable envelope carried by a queued task.
// Field names match the history-sink vocabulary.
type HealthCheckJob struct {
	LinkID       string `json:"linkId"`
	ConvexURLID  string `json:"convexUrlId"`
	ConvexUserID string `json:"convexUserId"`
	LongURL      string `json:"longUrl"`
	ShortURL     string `json:"shortUrl"`
	Environment  string `json:"environment"`
}

// TaskID builds the queue identity for a job. The enqueue timestamp keeps a
// force-check from colliding with a scheduled check of the same monitor.
func TaskID(linkID string, enqueuedAt time.Time) string {
	return fmt.Sprintf("%s-%d", linkID, enqueuedAt.UnixMilli())
}

// retryDelay implements exponential backoff starting at retryBase:
// 1s, 2s, 4s, ...
func retryDelay(n int) time.Duration {
	if n < 1 {
		return retryBase
	}
	return retryBase * time.Duration(1<<(n-1))
}
