package cache

import "context"

// TierStats is a point-in-time view of one tier's contents and counters.
type TierStats struct {
	Available  bool   `json:"available"`
	TotalFiles int    `json:"total_files"`
	TotalBytes int64  `json:"total_bytes"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
}

// FastTier is the low-latency cache layer. Implementations return
// ErrCacheMiss for absent or expired keys.
type FastTier interface {
	Get(ctx context.Context, fileID string) (*Record, error)
	Set(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, fileID string) error
	DeleteAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (TierStats, error)
}

// DurableTier is the capacity-bounded persistent cache layer.
type DurableTier interface {
	Get(ctx context.Context, fileID string) (*Record, error)
	Set(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, fileID string) error
	DeleteAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (TierStats, error)
}
