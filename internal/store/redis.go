package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	notifyQueueKey = "notify:pending"
	notifyTTL      = 24 * time.Hour
)

// RedisStore handles Redis operations: the push-notification queue and
// the backing client for rate limiting. Optional; the relay runs
// without it in development.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying Redis client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// NotifyEvent is what the out-of-process push notifier consumes. It
// carries ids only, never blob content.
type NotifyEvent struct {
	EventID   string `json:"event_id"`
	OwnerID   string `json:"owner_id"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"ts"` // Unix ms
}

// NotifyQueued enqueues a push-notification event for a freshly stored
// message. Best-effort: a failed enqueue must not fail the submit.
func (s *RedisStore) NotifyQueued(ctx context.Context, ownerID, messageID string) error {
	event := NotifyEvent{
		EventID:   uuid.NewString(),
		OwnerID:   ownerID,
		MessageID: messageID,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, notifyQueueKey, string(data))
	pipe.Expire(ctx, notifyQueueKey, notifyTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// PendingNotifications returns the depth of the notification queue,
// exposed on the health endpoint.
func (s *RedisStore) PendingNotifications(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, notifyQueueKey).Result()
}
