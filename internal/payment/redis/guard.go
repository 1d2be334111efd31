package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 24 * time.Hour
	keyPrefix  = "payments:webhook:"
)

// Guard suppresses duplicate webhook deliveries with SETNX + TTL.
type Guard struct {
	client goredis.Cmdable
	ttl    time.Duration
}

func NewGuard(client goredis.Cmdable, ttl time.Duration) (*Guard, error) {
	if client == nil {
		return nil, errors.New("redis client required for webhook guard")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Guard{client: client, ttl: ttl}, nil
}

// CheckAndMark claims key for this delivery. It reports false when the key
// was already claimed by an earlier delivery.
func (g *Guard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	return ok, nil
}

// Release forgets key so the gateway's retry can be processed again.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete webhook key: %w", err)
	}
	return nil
}
