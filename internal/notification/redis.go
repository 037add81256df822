package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list the mirror writes to.
const DefaultRedisKey = "notifications:recent"

// RedisMirror keeps a capped newest-first copy of the store in a Redis list
// so recent history survives restarts.
type RedisMirror struct {
	client   *redis.Client
	key      string
	capacity int
}

// NewRedisMirror connects to url and verifies the connection.
func NewRedisMirror(ctx context.Context, url, key string, capacity int) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisMirrorFromClient(client, key, capacity), nil
}

// NewRedisMirrorFromClient wraps an existing client.
func NewRedisMirrorFromClient(client *redis.Client, key string, capacity int) *RedisMirror {
	if key == "" {
		key = DefaultRedisKey
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisMirror{client: client, key: key, capacity: capacity}
}

// Push prepends n and trims the list to capacity in one round trip.
func (m *RedisMirror) Push(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, m.key, data)
	pipe.LTrim(ctx, m.key, 0, int64(m.capacity-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push %s: %w", m.key, err)
	}
	return nil
}

// Recent returns up to limit mirrored notifications, newest first. Entries
// that no longer decode are skipped.
func (m *RedisMirror) Recent(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 || limit > m.capacity {
		limit = m.capacity
	}
	raw, err := m.client.LRange(ctx, m.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range %s: %w", m.key, err)
	}
	out := make([]Notification, 0, len(raw))
	for _, r := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Close closes the Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
