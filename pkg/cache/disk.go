package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/snapstix/sticker-cache/pkg/asset"
)

const (
	// sidecarSuffix is appended to a payload filename for its metadata record.
	sidecarSuffix = ".meta"

	// sidecarIndexSize bounds the in-process sidecar index.
	sidecarIndexSize = 4096

	// sidecarIndexTTL bounds how long a cached sidecar is trusted without
	// re-reading it from disk.
	sidecarIndexTTL = 5 * time.Minute

	// sweepTargetFraction is the usage the capacity sweep reduces to once
	// the cap is exceeded.
	sweepTargetFraction = 0.8
)

// DiskTier is the durable cache tier. Each record is a payload file plus a
// JSON sidecar under a per-format subdirectory; filenames are the md5 of
// the file id. Expiry is passive on read, capacity eviction runs in the
// background sweep.
type DiskTier struct {
	dir      string
	ttl      time.Duration
	maxBytes int64
	logger   zerolog.Logger

	// index caches decoded sidecars so hot lookups skip a disk read.
	// It holds values, not pointers: every Get hands out a private copy,
	// so concurrent lookups of the same key never share mutable state.
	index *lru.LRU[string, Record]

	hits    atomic.Uint64
	misses  atomic.Uint64
	created atomic.Uint64
	deleted atomic.Uint64
}

// NewDiskTier creates the durable tier rooted at dir, creating the
// per-format directory layout.
func NewDiskTier(dir string, ttl time.Duration, maxBytes int64, logger zerolog.Logger) (*DiskTier, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}

	for _, f := range []asset.Format{asset.FormatTGS, asset.FormatLottie, asset.FormatWebP, asset.FormatWebM, asset.FormatPNG, asset.FormatJPG} {
		if err := os.MkdirAll(filepath.Join(dir, string(f)), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	t := &DiskTier{
		dir:      dir,
		ttl:      ttl,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "disk-cache").Logger(),
		index:    lru.NewLRU[string, Record](sidecarIndexSize, nil, sidecarIndexTTL),
	}

	t.logger.Info().
		Str("dir", dir).
		Int64("max_bytes", maxBytes).
		Dur("ttl", ttl).
		Msg("Disk cache initialized")

	return t, nil
}

func hashID(fileID string) string {
	sum := md5.Sum([]byte(fileID))
	return hex.EncodeToString(sum[:])
}

func (t *DiskTier) payloadPath(fileID string, format asset.Format) string {
	return filepath.Join(t.dir, string(format), hashID(fileID)+"."+string(format))
}

func (t *DiskTier) sidecarPath(fileID string, format asset.Format) string {
	return t.payloadPath(fileID, format) + sidecarSuffix
}

func indexKey(fileID string, format asset.Format) string {
	return string(format) + "/" + hashID(fileID)
}

// Get retrieves a record by file id, probing stored formats in lookup
// order. Expired entries are deleted on read and reported as a miss.
func (t *DiskTier) Get(ctx context.Context, fileID string) (*Record, error) {
	for _, format := range asset.CacheLookupFormats {
		rec, err := t.loadFormat(fileID, format)
		if err != nil {
			if err == ErrCacheMiss {
				continue
			}
			t.logger.Warn().Err(err).Str("file_id", fileID).Str("format", string(format)).Msg("Disk cache read error")
			continue
		}
		t.hits.Add(1)
		return rec, nil
	}
	t.misses.Add(1)
	return nil, ErrCacheMiss
}

func (t *DiskTier) loadFormat(fileID string, format asset.Format) (*Record, error) {
	meta, err := t.readSidecar(fileID, format)
	if err != nil {
		return nil, err
	}

	if meta.IsExpired() {
		t.removeEntry(fileID, format)
		CacheEvictions.WithLabelValues("expired").Inc()
		return nil, ErrCacheMiss
	}

	data, err := os.ReadFile(t.payloadPath(fileID, format))
	if err != nil {
		if os.IsNotExist(err) {
			// Orphaned sidecar.
			t.removeEntry(fileID, format)
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("durable", "get").Inc()
		return nil, fmt.Errorf("read payload: %w", err)
	}

	t.touch(fileID, format, meta)

	rec := *meta
	rec.Data = data
	return &rec, nil
}

// readSidecar returns a private copy of the sidecar for a key, consulting
// the in-process index before disk.
func (t *DiskTier) readSidecar(fileID string, format asset.Format) (*Record, error) {
	key := indexKey(fileID, format)
	if meta, ok := t.index.Get(key); ok {
		return &meta, nil
	}

	raw, err := os.ReadFile(t.sidecarPath(fileID, format))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("durable", "get").Inc()
		return nil, fmt.Errorf("read sidecar: %w", err)
	}

	var meta Record
	if err := json.Unmarshal(raw, &meta); err != nil {
		CacheErrors.WithLabelValues("durable", "get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	t.index.Add(key, meta)
	return &meta, nil
}

// touch advances the record's access time for LRU eviction ordering.
// meta is the caller's private copy from readSidecar, so the write here
// is never visible to a concurrent lookup. Failures only cost eviction
// accuracy, so they are logged at debug.
func (t *DiskTier) touch(fileID string, format asset.Format, meta *Record) {
	meta.LastAccessed = time.Now()
	t.index.Add(indexKey(fileID, format), *meta)

	raw, err := json.Marshal(meta)
	if err == nil {
		err = os.WriteFile(t.sidecarPath(fileID, format), raw, 0o644)
	}
	if err != nil {
		t.logger.Debug().Err(err).Str("file_id", fileID).Msg("Sidecar touch failed")
	}
}

// Set stores the payload and its sidecar. Already-expired records are not
// written.
func (t *DiskTier) Set(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("cache record cannot be nil")
	}
	if rec.TTL() <= 0 {
		return nil
	}

	if err := os.WriteFile(t.payloadPath(rec.FileID, rec.OutputFormat), rec.Data, 0o644); err != nil {
		CacheErrors.WithLabelValues("durable", "set").Inc()
		return fmt.Errorf("write payload: %w", err)
	}

	meta := *rec
	meta.Data = nil
	raw, err := json.Marshal(&meta)
	if err != nil {
		CacheErrors.WithLabelValues("durable", "set").Inc()
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.WriteFile(t.sidecarPath(rec.FileID, rec.OutputFormat), raw, 0o644); err != nil {
		CacheErrors.WithLabelValues("durable", "set").Inc()
		return fmt.Errorf("write sidecar: %w", err)
	}

	t.index.Add(indexKey(rec.FileID, rec.OutputFormat), meta)
	t.created.Add(1)
	CacheStoredBytes.WithLabelValues("durable").Add(float64(len(rec.Data)))

	t.logger.Debug().
		Str("file_id", rec.FileID).
		Str("format", string(rec.OutputFormat)).
		Int("byte_size", rec.ByteSize).
		Msg("Stored in disk cache")

	return nil
}

// Delete removes a file id from every format directory. Idempotent.
func (t *DiskTier) Delete(ctx context.Context, fileID string) error {
	for _, format := range []asset.Format{asset.FormatTGS, asset.FormatLottie, asset.FormatWebP, asset.FormatWebM, asset.FormatPNG, asset.FormatJPG} {
		t.removeEntry(fileID, format)
	}
	return nil
}

// removeEntry deletes payload + sidecar for one key and drops it from the
// index.
func (t *DiskTier) removeEntry(fileID string, format asset.Format) {
	removed := false
	for _, p := range []string{t.payloadPath(fileID, format), t.sidecarPath(fileID, format)} {
		if err := os.Remove(p); err == nil {
			removed = true
		} else if !os.IsNotExist(err) {
			t.logger.Warn().Err(err).Str("path", p).Msg("Disk cache delete error")
			CacheErrors.WithLabelValues("durable", "delete").Inc()
		}
	}
	t.index.Remove(indexKey(fileID, format))
	if removed {
		t.deleted.Add(1)
	}
}

// DeleteAll clears every entry and returns the number of payloads removed.
func (t *DiskTier) DeleteAll(ctx context.Context) (int, error) {
	deleted := 0
	err := t.walkPayloads(func(path string, info os.FileInfo) error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		_ = os.Remove(path + sidecarSuffix)
		deleted++
		return nil
	})
	t.index.Purge()
	if err != nil {
		return deleted, fmt.Errorf("clear disk cache: %w", err)
	}
	return deleted, nil
}

// Stats walks the cache directory and reports entry count and total bytes.
func (t *DiskTier) Stats(ctx context.Context) (TierStats, error) {
	stats := TierStats{
		Available: true,
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
	}
	err := t.walkPayloads(func(path string, info os.FileInfo) error {
		stats.TotalFiles++
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("disk cache stats: %w", err)
	}
	return stats, nil
}

// walkPayloads visits every payload file (sidecars skipped).
func (t *DiskTier) walkPayloads(fn func(path string, info os.FileInfo) error) error {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return err
	}
	for _, dir := range entries {
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(t.dir, dir.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) == sidecarSuffix {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			if err := fn(filepath.Join(t.dir, dir.Name(), f.Name()), info); err != nil {
				return err
			}
		}
	}
	return nil
}
