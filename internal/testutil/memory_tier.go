package testutil

import (
	"context"
	"sync"

	"github.com/snapstix/sticker-cache/pkg/cache"
)

// MemoryTier is an in-memory cache tier for tests. It satisfies both
// cache.FastTier and cache.DurableTier and supports error injection.
type MemoryTier struct {
	mu      sync.Mutex
	records map[string]*cache.Record

	// GetErr and SetErr, when non-nil, fail the respective operation.
	GetErr error
	SetErr error
}

// NewMemoryTier creates an empty in-memory tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{records: make(map[string]*cache.Record)}
}

// Get returns the stored record, or cache.ErrCacheMiss for absent and
// expired keys.
func (t *MemoryTier) Get(_ context.Context, fileID string) (*cache.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.GetErr != nil {
		return nil, t.GetErr
	}
	rec, ok := t.records[fileID]
	if !ok || rec.IsExpired() {
		delete(t.records, fileID)
		return nil, cache.ErrCacheMiss
	}
	return rec, nil
}

// Set stores a record. Records with no remaining TTL are dropped.
func (t *MemoryTier) Set(_ context.Context, rec *cache.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SetErr != nil {
		return t.SetErr
	}
	if rec.TTL() <= 0 {
		return nil
	}
	t.records[rec.FileID] = rec
	return nil
}

// Delete removes one record. Idempotent.
func (t *MemoryTier) Delete(_ context.Context, fileID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, fileID)
	return nil
}

// DeleteAll clears the tier and returns how many records were removed.
func (t *MemoryTier) DeleteAll(context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.records)
	t.records = make(map[string]*cache.Record)
	return n, nil
}

// Stats reports the tier contents.
func (t *MemoryTier) Stats(context.Context) (cache.TierStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := cache.TierStats{Available: true, TotalFiles: len(t.records)}
	for _, rec := range t.records {
		stats.TotalBytes += int64(rec.ByteSize)
	}
	return stats, nil
}

// Len returns the number of live records.
func (t *MemoryTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
