// Package idem records idempotency keys in redis so a retried request is
// answered with the first result instead of being executed twice.
package idem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// idem:order:create:{user_id}:{client_key} -> order_id
	KeyOrderCreate = "idem:order:create:%s:%s"

	pending = "pending"
)

var TTLIdempotency = 24 * time.Hour

var ErrInProgress = errors.New("idempotency key in progress")

func OrderCreateKey(userID, clientKey string) string {
	return fmt.Sprintf(KeyOrderCreate, userID, clientKey)
}

type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client) *Guard {
	return &Guard{rdb: rdb, ttl: TTLIdempotency}
}

// Reserve claims key. fresh is true when the caller now owns it. When the key
// already finished, stored holds the recorded result. A key still being worked
// on yields ErrInProgress.
func (g *Guard) Reserve(ctx context.Context, key string) (stored string, fresh bool, err error) {
	ok, err := g.rdb.SetNX(ctx, key, pending, g.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return "", true, nil
	}

	v, err := g.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; the client retries
		return "", false, ErrInProgress
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	if v == pending {
		return "", false, ErrInProgress
	}
	return v, false, nil
}

func (g *Guard) Complete(ctx context.Context, key, result string) error {
	if err := g.rdb.Set(ctx, key, result, g.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Release drops a reservation so the same key can be retried after a failure.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}
