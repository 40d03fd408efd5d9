package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wootoff-monitor/internal/types"
)

const (
	redisListKey = "wootoff:events"
	redisChannel = "wootoff:events"
	// redisMaxEvents caps the event list; older entries are trimmed
	redisMaxEvents = 1000
)

// RedisJournal keeps a capped list of events and publishes each one
type RedisJournal struct {
	client  *redis.Client
	key     string
	channel string
}

func NewRedisJournal(addr string) (*RedisJournal, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisJournal{
		client:  client,
		key:     redisListKey,
		channel: redisChannel,
	}, nil
}

func (r *RedisJournal) Append(ctx context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, redisMaxEvents-1)
	pipe.Publish(ctx, r.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

func (r *RedisJournal) Recent(ctx context.Context, limit int) ([]types.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stop := int64(limit - 1)
	if limit <= 0 {
		stop = -1
	}
	items, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	events := make([]types.Event, 0, len(items))
	for _, item := range items {
		var e types.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("unmarshal JSON: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *RedisJournal) Close() error {
	return r.client.Close()
}
