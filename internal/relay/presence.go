package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence mirrors room membership outside the process.
type Presence interface {
	Add(ctx context.Context, roomID, peerID string) error
	Remove(ctx context.Context, roomID, peerID string) error
	Members(ctx context.Context, roomID string) ([]string, error)
}

// NopPresence keeps nothing.
type NopPresence struct{}

func (NopPresence) Add(context.Context, string, string) error         { return nil }
func (NopPresence) Remove(context.Context, string, string) error      { return nil }
func (NopPresence) Members(context.Context, string) ([]string, error) { return nil, nil }

// RedisPresence stores each room as a set "room:<id>:peers" that expires
// after ttl without activity.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresence connects to addr and verifies the connection.
func NewRedisPresence(ctx context.Context, opts *redis.Options, ttl time.Duration) (*RedisPresence, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return &RedisPresence{client: client, ttl: ttl}, nil
}

func roomKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

func (p *RedisPresence) Add(ctx context.Context, roomID, peerID string) error {
	key := roomKey(roomID)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, peerID)
	pipe.Expire(ctx, key, p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) Remove(ctx context.Context, roomID, peerID string) error {
	return p.client.SRem(ctx, roomKey(roomID), peerID).Err()
}

func (p *RedisPresence) Members(ctx context.Context, roomID string) ([]string, error) {
	return p.client.SMembers(ctx, roomKey(roomID)).Result()
}

// Close closes the Redis client.
func (p *RedisPresence) Close() error {
	return p.client.Close()
}
