package cache

import (
	"errors"
	"time"

	"github.com/snapstix/sticker-cache/pkg/asset"
)

var (
	// ErrCacheMiss indicates the requested key was not found in a tier.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidRecord indicates a stored record is corrupted or unreadable.
	ErrInvalidRecord = errors.New("invalid cache record")
)

// Record is one cached sticker entry. The fast tier stores it as a single
// JSON document; the durable tier stores the payload file plus the
// remaining fields as a sidecar record.
type Record struct {
	FileID       string       `json:"file_id"`
	SourceFormat asset.Format `json:"source_format"`
	OutputFormat asset.Format `json:"output_format"`
	Converted    bool         `json:"converted"`
	ByteSize     int          `json:"byte_size"`
	Data         []byte       `json:"data,omitempty"`
	CachedAt     time.Time    `json:"cached_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	LastAccessed time.Time    `json:"last_accessed"`
}

// NewRecord builds a Record for an asset with the given TTL.
func NewRecord(a *asset.Asset, ttl time.Duration) *Record {
	now := time.Now()
	return &Record{
		FileID:       a.ID,
		SourceFormat: a.SourceFormat,
		OutputFormat: a.OutputFormat,
		Converted:    a.Converted,
		ByteSize:     a.ByteSize,
		Data:         a.Bytes,
		CachedAt:     now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
	}
}

// IsExpired returns true if the record has passed its expiry.
// A record stored with ttl=0 is expired immediately.
func (r *Record) IsExpired() bool {
	return !time.Now().Before(r.ExpiresAt)
}

// TTL returns the remaining time until expiry, 0 if already expired.
func (r *Record) TTL() time.Duration {
	ttl := time.Until(r.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Asset reconstructs the cached asset.
func (r *Record) Asset() *asset.Asset {
	return &asset.Asset{
		ID:           r.FileID,
		SourceFormat: r.SourceFormat,
		OutputFormat: r.OutputFormat,
		Bytes:        r.Data,
		ByteSize:     r.ByteSize,
		Converted:    r.Converted,
		FetchedAt:    r.CachedAt,
	}
}
