package requestlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/config"
)

//RedisSink keeps the request log in a capped redis list so that every replica sees the same log
type RedisSink struct {
	client   *redis.Client
	key      string
	capacity int64
}

//NewRedisClient creates a client for the configured redis server
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

//NewRedisSink stores at most capacity entries below key
func NewRedisSink(client *redis.Client, key string, capacity int) *RedisSink {
	if capacity <= 0 {
		capacity = 1
	}
	return &RedisSink{client: client, key: key, capacity: int64(capacity)}
}

//Record pushes the entry to the head of the list and trims the tail in one transaction
func (s *RedisSink) Record(ctx context.Context, entry Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal request log entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, b)
		pipe.LTrim(ctx, s.key, 0, s.capacity-1)
		return nil
	})
	return err
}

func (s *RedisSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.client.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
