package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "revoked:"

// RedisList shares the deny-list between instances through Redis keys that
// expire together with the revoked token.
type RedisList struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisList(rdb *redis.Client, now func() time.Time) *RedisList {
	if now == nil {
		now = time.Now
	}
	return &RedisList{rdb: rdb, now: now}
}

// NewRedisClient creates and pings a Redis client.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (l *RedisList) Revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(l.now())
	if ttl <= 0 {
		return true, nil
	}
	created, err := l.rdb.SetNX(ctx, keyPrefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return created, nil
}

func (l *RedisList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.rdb.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}
