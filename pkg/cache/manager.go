package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapstix/sticker-cache/pkg/asset"
)

// promotionTimeout bounds the background write-back of a durable-tier hit
// into the fast tier.
const promotionTimeout = 5 * time.Second

// Manager composes the fast and durable tiers. Lookups check the fast
// tier first and fall back to the durable tier, promoting durable hits
// back into the fast tier; stores fan out according to the Strategy.
type Manager struct {
	fast     FastTier
	durable  DurableTier
	strategy Strategy
	logger   zerolog.Logger
}

// Stats aggregates both tiers for the reporting endpoint.
type Stats struct {
	Fast    TierStats `json:"fast"`
	Durable TierStats `json:"durable"`
}

// NewManager creates a tier manager. The fast tier may be nil, in which
// case the cache operates durable-only.
func NewManager(fast FastTier, durable DurableTier, strategy Strategy, logger zerolog.Logger) *Manager {
	if durable == nil {
		panic("durable tier cannot be nil")
	}
	return &Manager{
		fast:     fast,
		durable:  durable,
		strategy: strategy,
		logger:   logger.With().Str("component", "cache-manager").Logger(),
	}
}

// Lookup returns the cached asset for a file id, or ErrCacheMiss.
// Fast-tier errors degrade to a durable-tier lookup; they are never
// surfaced.
func (m *Manager) Lookup(ctx context.Context, fileID string) (*asset.Asset, error) {
	if m.fast != nil {
		rec, err := m.fast.Get(ctx, fileID)
		switch {
		case err == nil:
			CacheHits.WithLabelValues("fast").Inc()
			m.logger.Debug().Str("file_id", fileID).Str("tier", "fast").Msg("Cache hit")
			return rec.Asset(), nil
		case !errors.Is(err, ErrCacheMiss):
			m.logger.Warn().Err(err).Str("file_id", fileID).Msg("Fast tier unavailable, falling back to durable tier")
		}
	}

	rec, err := m.durable.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		// Durable-tier read failures are also treated as a miss; the
		// asset will simply be re-fetched.
		m.logger.Warn().Err(err).Str("file_id", fileID).Msg("Durable tier read error")
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("durable").Inc()
	m.logger.Debug().Str("file_id", fileID).Str("tier", "durable").Msg("Cache hit")
	m.promote(rec)

	return rec.Asset(), nil
}

// promote copies a durable-tier record into the fast tier in the
// background. Best effort: failures are logged, never surfaced.
func (m *Manager) promote(rec *Record) {
	if m.fast == nil || !m.strategy.AdmitFast(rec.OutputFormat, rec.ByteSize, rec.Converted) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), promotionTimeout)
		defer cancel()

		if err := m.fast.Set(ctx, rec); err != nil {
			m.logger.Warn().Err(err).Str("file_id", rec.FileID).Msg("Fast tier promotion failed")
			return
		}
		CachePromotions.Inc()
		m.logger.Debug().Str("file_id", rec.FileID).Msg("Promoted to fast tier")
	}()
}

// Store writes an asset to the durable tier and, when the strategy admits
// it, to the fast tier. Both writes carry the same ttl. Tier errors are
// logged and swallowed.
func (m *Manager) Store(ctx context.Context, a *asset.Asset, ttl time.Duration) {
	rec := NewRecord(a, ttl)

	if m.strategy.AdmitDurable(rec.OutputFormat, rec.ByteSize) {
		if err := m.durable.Set(ctx, rec); err != nil {
			m.logger.Warn().Err(err).Str("file_id", a.ID).Msg("Durable tier store failed")
		}
	}

	if m.fast != nil && m.strategy.AdmitFast(rec.OutputFormat, rec.ByteSize, rec.Converted) {
		if err := m.fast.Set(ctx, rec); err != nil {
			m.logger.Warn().Err(err).Str("file_id", a.ID).Msg("Fast tier store failed")
		}
	}
}

// Delete removes a file id from both tiers. Idempotent.
func (m *Manager) Delete(ctx context.Context, fileID string) {
	if m.fast != nil {
		if err := m.fast.Delete(ctx, fileID); err != nil {
			m.logger.Warn().Err(err).Str("file_id", fileID).Msg("Fast tier delete failed")
		}
	}
	if err := m.durable.Delete(ctx, fileID); err != nil {
		m.logger.Warn().Err(err).Str("file_id", fileID).Msg("Durable tier delete failed")
	}
}

// DeleteAll clears both tiers and returns how many entries each removed.
func (m *Manager) DeleteAll(ctx context.Context) (fastDeleted, durableDeleted int) {
	if m.fast != nil {
		n, err := m.fast.DeleteAll(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Fast tier clear failed")
		}
		fastDeleted = n
	}

	n, err := m.durable.DeleteAll(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Durable tier clear failed")
	}
	durableDeleted = n
	return fastDeleted, durableDeleted
}

// Stats reads both tiers. A failing tier is reported as unavailable
// rather than erroring the whole snapshot.
func (m *Manager) Stats(ctx context.Context) Stats {
	var stats Stats

	if m.fast != nil {
		fs, err := m.fast.Stats(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Fast tier stats failed")
			fs.Available = false
		}
		stats.Fast = fs
	}

	ds, err := m.durable.Stats(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Durable tier stats failed")
		ds.Available = false
	}
	stats.Durable = ds

	return stats
}
