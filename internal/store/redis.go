package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// RedisStore backs the relay queue and the rate limiter. Relay entries carry
// no TTL: a queued message stays until its recipient drains it.
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

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying connection for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Available reports whether the relay backend is usable.
func (s *RedisStore) Available() bool {
	return s != nil && s.client != nil
}

// relayKey returns the key for an agent's relay queue sorted set.
func relayKey(agentID string) string {
	return fmt.Sprintf("relay:%s:queue", agentID)
}

// Enqueue appends a relay entry to the recipient's queue.
func (s *RedisStore) Enqueue(ctx context.Context, recipientID string, entry *models.RelayEntry) error {
	if entry.EnqueuedAt == 0 {
		entry.EnqueuedAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return s.client.ZAdd(ctx, relayKey(recipientID), redis.Z{
		Score:  float64(entry.EnqueuedAt),
		Member: string(data),
	}).Err()
}

// Drain returns up to limit queued entries, oldest first, and removes them.
// A crash between read and removal redelivers; pickup is at-least-once.
func (s *RedisStore) Drain(ctx context.Context, recipientID string, limit int) ([]models.RelayEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	key := relayKey(recipientID)
	results, err := s.client.ZRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	entries := make([]models.RelayEntry, 0, len(results))
	members := make([]interface{}, 0, len(results))
	for _, data := range results {
		var entry models.RelayEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			// Unparseable entries are dropped with the batch.
			members = append(members, data)
			continue
		}
		entries = append(entries, entry)
		members = append(members, data)
	}

	if err := s.client.ZRem(ctx, key, members...).Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// Pending reports how many entries wait in the recipient's queue.
func (s *RedisStore) Pending(ctx context.Context, recipientID string) (int64, error) {
	return s.client.ZCard(ctx, relayKey(recipientID)).Result()
}
