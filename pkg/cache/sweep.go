package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// Sweeper runs the durable tier's background maintenance: passive TTL
// cleanup and LRU capacity eviction. A flock on the cache directory
// ensures only one process sweeps a shared directory at a time; a sweep
// never blocks concurrent Store calls.
type Sweeper struct {
	tier     *DiskTier
	interval time.Duration
	lock     *flock.Flock
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper for the given disk tier.
func NewSweeper(tier *DiskTier, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		tier:     tier,
		interval: interval,
		lock:     flock.New(filepath.Join(tier.dir, ".sweep.lock")),
		logger:   logger.With().Str("component", "cache-sweeper").Logger(),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, evicted, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("Cache sweep failed")
				continue
			}
			if expired > 0 || evicted > 0 {
				s.logger.Info().
					Int("expired", expired).
					Int("evicted", evicted).
					Msg("Cache sweep complete")
			}
		}
	}
}

// RunOnce performs a single sweep. Returns without doing anything when
// another process holds the sweep lock.
func (s *Sweeper) RunOnce(ctx context.Context) (expired, evicted int, err error) {
	locked, err := s.lock.TryLock()
	if err != nil {
		return 0, 0, err
	}
	if !locked {
		s.logger.Debug().Msg("Sweep lock held elsewhere, skipping")
		return 0, 0, nil
	}
	defer func() {
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()

	return s.tier.sweep(ctx)
}

// sweepEntry is one durable record as seen by the sweep.
type sweepEntry struct {
	payloadPath  string
	sidecarPath  string
	size         int64
	expiresAt    time.Time
	lastAccessed time.Time
}

// sweep removes expired entries, then evicts least-recently-used entries
// until usage drops to the sweep target once the byte cap is exceeded.
// Entries are never evicted while total usage is within the cap.
func (t *DiskTier) sweep(ctx context.Context) (expired, evicted int, err error) {
	entries, usage, err := t.collectEntries()
	if err != nil {
		return 0, 0, err
	}

	now := time.Now()
	live := entries[:0]
	for _, e := range entries {
		if ctx.Err() != nil {
			return expired, evicted, ctx.Err()
		}
		if !now.Before(e.expiresAt) {
			t.removeSweepEntry(e)
			usage -= e.size
			expired++
			CacheEvictions.WithLabelValues("expired").Inc()
			continue
		}
		live = append(live, e)
	}

	if t.maxBytes <= 0 || usage <= t.maxBytes {
		return expired, 0, nil
	}

	target := int64(float64(t.maxBytes) * sweepTargetFraction)
	sort.Slice(live, func(i, j int) bool {
		return live[i].lastAccessed.Before(live[j].lastAccessed)
	})

	for _, e := range live {
		if usage <= target {
			break
		}
		if ctx.Err() != nil {
			return expired, evicted, ctx.Err()
		}
		t.removeSweepEntry(e)
		usage -= e.size
		evicted++
		CacheEvictions.WithLabelValues("capacity").Inc()
	}

	return expired, evicted, nil
}

// collectEntries reads every sidecar under the cache directory.
func (t *DiskTier) collectEntries() ([]sweepEntry, int64, error) {
	var entries []sweepEntry
	var usage int64

	err := t.walkPayloads(func(path string, info os.FileInfo) error {
		e := sweepEntry{
			payloadPath: path,
			sidecarPath: path + sidecarSuffix,
			size:        info.Size(),
		}

		raw, rerr := os.ReadFile(e.sidecarPath)
		if rerr != nil {
			// Payload without sidecar: treat as immediately evictable.
			e.expiresAt = time.Time{}
			entries = append(entries, e)
			usage += e.size
			return nil
		}

		var meta Record
		if jerr := json.Unmarshal(raw, &meta); jerr != nil {
			e.expiresAt = time.Time{}
		} else {
			e.expiresAt = meta.ExpiresAt
			e.lastAccessed = meta.LastAccessed
		}
		entries = append(entries, e)
		usage += e.size
		return nil
	})

	return entries, usage, err
}

func (t *DiskTier) removeSweepEntry(e sweepEntry) {
	for _, p := range []string{e.payloadPath, e.sidecarPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			t.logger.Warn().Err(err).Str("path", p).Msg("Sweep delete error")
		}
	}

	// Index key is <format>/<hash>, recoverable from the payload path.
	format := filepath.Base(filepath.Dir(e.payloadPath))
	hash := filepath.Base(e.payloadPath)
	if ext := filepath.Ext(hash); ext != "" {
		hash = hash[:len(hash)-len(ext)]
	}
	t.index.Remove(format + "/" + hash)

	t.deleted.Add(1)
}
