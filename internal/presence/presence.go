// Package presence mirrors live room membership into an external store so
// that room sizes are observable outside the hub process. The hub itself
// never reads the mirror to make routing decisions.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/video-relay/config"
	"github.com/redis/go-redis/v9"
)

// Store records which participants belong to which room.
type Store interface {
	Add(ctx context.Context, roomID, peerID string) error
	Remove(ctx context.Context, roomID, peerID string) error
	Count(ctx context.Context, roomID string) (int64, error)
	Close() error
}

// RedisStore keeps one set per room under "room:<id>:peers".
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect initializes the Redis client
func Connect(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStore(client, cfg.TTL), nil
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func peersKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

func (s *RedisStore) Add(ctx context.Context, roomID, peerID string) error {
	key := peersKey(roomID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, peerID)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence add %s/%s: %w", roomID, peerID, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, roomID, peerID string) error {
	if err := s.client.SRem(ctx, peersKey(roomID), peerID).Err(); err != nil {
		return fmt.Errorf("presence remove %s/%s: %w", roomID, peerID, err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context, roomID string) (int64, error) {
	n, err := s.client.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count %s: %w", roomID, err)
	}
	return n, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Nop is used when no presence backend is configured.
type Nop struct{}

func (Nop) Add(context.Context, string, string) error    { return nil }
func (Nop) Remove(context.Context, string, string) error { return nil }
func (Nop) Count(context.Context, string) (int64, error) { return 0, nil }
func (Nop) Close() error                                 { return nil }
