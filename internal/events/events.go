// Package events carries status-change notifications from workers to the
// admin API's live stream over a Redis pub/sub channel. Delivery is
// best-effort; losing an event never affects probe correctness.
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel is the pub/sub channel status events travel on.
const Channel = "linkwatch:status"

// StatusEvent describes one completed probe.
type StatusEvent struct {
	LinkID     string `json:"linkId"`
	ShortURL   string `json:"shortUrl"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	LatencyMS  int64  `json:"latencyMs"`
	IsHealthy  bool   `json:"isHealthy"`
	CheckedAt  int64  `json:"checkedAt"`
}

// Publisher owns a dedicated Redis connection for publishing. Process-wide;
// connected lazily, closed only at shutdown.
type Publisher struct {
	rdb    *redis.Client
	logger *zap.SugaredLogger
}

// NewPublisher parses the Redis URL and builds the publisher connection.
func NewPublisher(redisURL string, logger *zap.SugaredLogger) (*Publisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		rdb:    redis.NewClient(opt),
		logger: logger.With("component", "events"),
	}, nil
}

// PublishStatusChange sends one event.
func (p *Publisher) PublishStatusChange(ctx context.Context, ev StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, Channel, payload).Err()
}

// Close releases the publisher connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Subscriber owns the dedicated events-subscriber connection.
type Subscriber struct {
	rdb    *redis.Client
	logger *zap.SugaredLogger
}

// NewSubscriber builds the subscriber connection.
func NewSubscriber(redisURL string, logger *zap.SugaredLogger) (*Subscriber, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		rdb:    redis.NewClient(opt),
		logger: logger.With("component", "events"),
	}, nil
}

// Subscribe delivers events until ctx is cancelled. Malformed payloads are
// logged and dropped; a full consumer drops events rather than blocking the
// subscription.
func (s *Subscriber) Subscribe(ctx context.Context) <-chan StatusEvent {
	out := make(chan StatusEvent, 64)
	pubsub := s.rdb.Subscribe(ctx, Channel)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.Warnw("dropping malformed status event", "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					s.logger.Debugw("status event dropped, consumer full", "link_id", ev.LinkID)
				}
			}
		}
	}()
	return out
}

// Close releases the subscriber connection.
func (s *Subscriber) Close() error {
	return s.rdb.Close()
}
