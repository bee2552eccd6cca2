package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIndex is an optional, horizontally-shareable Idempotency Index
// backend for deployments running more than one process against the same
// cache tier. Atomicity comes from SET NX, the same "insert only if
// absent" primitive SQLiteIndex/PostgresIndex get from their primary key.
type RedisIndex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIndex wraps an already-connected redis.Client. ttl bounds how
// long a (org_id, signal_id) pair is remembered; 0 means forever.
func NewRedisIndex(client *redis.Client, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, ttl: ttl}
}

func (r *RedisIndex) CheckAndStore(ctx context.Context, orgID, signalID string, now time.Time) (Result, error) {
	ts := now.UTC().Format(time.RFC3339Nano)
	k := redisKey(orgID, signalID)

	ok, err := r.client.SetNX(ctx, k, ts, r.ttl).Result()
	if err != nil {
		return Result{}, fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if ok {
		return Result{IsDuplicate: false, ReceivedAt: ts}, nil
	}

	stored, err := r.client.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Lost a race with the entry's own expiry; treat as a fresh
			// accept rather than surfacing a spurious error.
			return r.CheckAndStore(ctx, orgID, signalID, now)
		}
		return Result{}, fmt.Errorf("idempotency: redis get: %w", err)
	}
	return Result{IsDuplicate: true, ReceivedAt: stored}, nil
}

func redisKey(orgID, signalID string) string {
	return "licl:idempotency:" + orgID + ":" + signalID
}
