package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/herald/pkg/observability"
	"github.com/platinummonkey/herald/pkg/storage"
	"github.com/platinummonkey/herald/pkg/webhooks"
)

const backend = "redis"

// NewClient connects to the Redis server named by the storage config
func NewClient(ctx context.Context, cfg storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Queue is a webhooks.Queue stored in a Redis list
type Queue struct {
	client  *redis.Client
	key     string
	logger  *observability.Logger
	metrics *observability.Metrics
}

var _ webhooks.Queue = (*Queue)(nil)

// New creates a queue over key. logger and metrics may be nil.
func New(client *redis.Client, key string, logger *observability.Logger, metrics *observability.Metrics) *Queue {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Queue{
		client:  client,
		key:     key,
		logger:  logger.WithField("queue", key),
		metrics: metrics,
	}
}

func (q *Queue) Enqueue(ctx context.Context, attempt *webhooks.DeliveryAttempt) (err error) {
	defer func(start time.Time) {
		q.metrics.RecordStorageOperation("enqueue", backend, err, time.Since(start))
	}(time.Now())

	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to encode delivery attempt: %w", err)
	}
	if err = q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("redis rpush failed: %w", err)
	}
	return nil
}

// Dequeue pops up to n attempts. Entries that no longer decode are dropped
// and logged rather than blocking the head of the queue forever.
func (q *Queue) Dequeue(ctx context.Context, n int) (attempts []*webhooks.DeliveryAttempt, err error) {
	if n <= 0 {
		return nil, nil
	}
	defer func(start time.Time) {
		q.metrics.RecordStorageOperation("dequeue", backend, err, time.Since(start))
	}(time.Now())

	var head *redis.StringSliceCmd
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		head = pipe.LRange(ctx, q.key, 0, int64(n-1))
		pipe.LTrim(ctx, q.key, int64(n), -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis dequeue failed: %w", err)
	}

	for _, raw := range head.Val() {
		var attempt webhooks.DeliveryAttempt
		if decodeErr := json.Unmarshal([]byte(raw), &attempt); decodeErr != nil {
			q.logger.WithError(decodeErr).Error("Dropping undecodable delivery attempt")
			q.metrics.RecordDeliveryError("decode")
			continue
		}
		attempts = append(attempts, &attempt)
	}
	return attempts, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	return int(n), nil
}

func (q *Queue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
