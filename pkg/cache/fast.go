package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces all sticker records in Redis.
const keyPrefix = "sticker:cache:"

// RedisTier is the fast cache tier backed by Redis. Records are stored as
// one JSON document per key with a server-side TTL, so expiry is handled
// by Redis itself.
type RedisTier struct {
	redis  *redis.Client
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisTier creates the fast tier on an existing Redis client.
func NewRedisTier(redisClient *redis.Client) *RedisTier {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisTier{redis: redisClient}
}

func redisKey(fileID string) string {
	return keyPrefix + fileID
}

// Get retrieves a record by file id. Returns ErrCacheMiss when absent.
func (t *RedisTier) Get(ctx context.Context, fileID string) (*Record, error) {
	data, err := t.redis.Get(ctx, redisKey(fileID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			t.misses.Add(1)
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("fast", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		CacheErrors.WithLabelValues("fast", "get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	// Redis drops keys on TTL, but a record written with ttl=0 may still
	// be visible for the same instant it was stored.
	if rec.IsExpired() {
		_ = t.Delete(ctx, fileID)
		t.misses.Add(1)
		return nil, ErrCacheMiss
	}

	t.hits.Add(1)
	return &rec, nil
}

// Set stores a record with its remaining TTL. Records that are already
// expired are not written.
func (t *RedisTier) Set(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("cache record cannot be nil")
	}

	ttl := rec.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		CacheErrors.WithLabelValues("fast", "set").Inc()
		return fmt.Errorf("marshal cache record: %w", err)
	}

	if err := t.redis.Set(ctx, redisKey(rec.FileID), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("fast", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheStoredBytes.WithLabelValues("fast").Add(float64(len(data)))
	return nil
}

// Delete removes a record. Deleting an absent key is not an error.
func (t *RedisTier) Delete(ctx context.Context, fileID string) error {
	if err := t.redis.Del(ctx, redisKey(fileID)).Err(); err != nil {
		CacheErrors.WithLabelValues("fast", "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteAll removes every sticker record and returns the number deleted.
func (t *RedisTier) DeleteAll(ctx context.Context) (int, error) {
	var deleted int
	iter := t.redis.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := t.redis.Del(ctx, iter.Val()).Err(); err != nil {
			CacheErrors.WithLabelValues("fast", "delete").Inc()
			return deleted, fmt.Errorf("redis del: %w", err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("fast", "scan").Inc()
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	return deleted, nil
}

// Stats reports record count, total payload bytes and hit counters.
func (t *RedisTier) Stats(ctx context.Context) (TierStats, error) {
	stats := TierStats{
		Available: true,
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
	}

	iter := t.redis.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		size, err := t.redis.StrLen(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		stats.TotalFiles++
		stats.TotalBytes += size
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("redis scan: %w", err)
	}
	return stats, nil
}
