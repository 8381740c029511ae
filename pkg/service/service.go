// Package service orchestrates the sticker read path: cache lookup,
// deduplicated upstream fetch, conversion and write-back.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/snapstix/sticker-cache/pkg/asset"
	"github.com/snapstix/sticker-cache/pkg/cache"
	"github.com/snapstix/sticker-cache/pkg/convert"
	"github.com/snapstix/sticker-cache/pkg/upstream"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sticker_requests_total",
		Help: "Total sticker requests by cache status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sticker_request_duration_seconds",
		Help:    "End-to-end sticker request processing time",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
)

// Fetcher is the rate-limited upstream surface the service fetches
// through. *upstream.Queue implements it.
type Fetcher interface {
	Resolve(ctx context.Context, fileID string) (upstream.Location, error)
	Download(ctx context.Context, loc upstream.Location) ([]byte, error)
}

// statsProvider is implemented by fetchers that track call statistics.
type statsProvider interface {
	Stats() upstream.Snapshot
	RateState() upstream.RateSnapshot
}

// CacheStatus tells a caller where the asset came from.
type CacheStatus string

const (
	StatusHit  CacheStatus = "hit"
	StatusMiss CacheStatus = "miss"
)

// Meta describes how a request was served.
type Meta struct {
	CacheStatus    CacheStatus
	SourceFormat   asset.Format
	OutputFormat   asset.Format
	ByteSize       int
	Converted      bool
	ConversionTime time.Duration
	ProcessingTime time.Duration
}

// Headers renders the metadata as response headers.
func (m Meta) Headers() map[string]string {
	h := map[string]string{
		"X-Cache-Status":    string(m.CacheStatus),
		"X-Source-Format":   string(m.SourceFormat),
		"X-Output-Format":   string(m.OutputFormat),
		"X-Byte-Size":       strconv.Itoa(m.ByteSize),
		"X-Converted":       strconv.FormatBool(m.Converted),
		"X-Processing-Time": m.ProcessingTime.Round(time.Millisecond).String(),
	}
	if m.Converted {
		h["X-Conversion-Time"] = m.ConversionTime.Round(time.Millisecond).String()
	}
	return h
}

// Config holds service tuning.
type Config struct {
	// TTL applies to every cache write.
	TTL time.Duration

	// SlowRequestThreshold triggers a warning log for slow end-to-end
	// requests.
	SlowRequestThreshold time.Duration

	// SlowFetchThreshold triggers a warning log for slow upstream
	// fetches.
	SlowFetchThreshold time.Duration

	// FetchTimeout bounds one shared fetch. The fetch runs detached from
	// the caller that started it, so this is its only deadline.
	FetchTimeout time.Duration
}

// AssetService serves stickers cache-first. Concurrent misses for the
// same file id collapse into a single upstream fetch.
type AssetService struct {
	cache    *cache.Manager
	fetcher  Fetcher
	pipeline *convert.Pipeline
	cfg      Config
	logger   zerolog.Logger
	flight   singleflight.Group
}

// New creates the service. All collaborators are required.
func New(cacheManager *cache.Manager, fetcher Fetcher, pipeline *convert.Pipeline, cfg Config, logger zerolog.Logger) *AssetService {
	if cacheManager == nil || fetcher == nil || pipeline == nil {
		panic("service: nil collaborator")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.SlowRequestThreshold <= 0 {
		cfg.SlowRequestThreshold = 5 * time.Second
	}
	if cfg.SlowFetchThreshold <= 0 {
		cfg.SlowFetchThreshold = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	return &AssetService{
		cache:    cacheManager,
		fetcher:  fetcher,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger.With().Str("component", "asset-service").Logger(),
	}
}

// Get returns the sticker for a file id, from cache when possible and
// via a deduplicated upstream fetch otherwise.
func (s *AssetService) Get(ctx context.Context, fileID string) (*asset.Asset, Meta, error) {
	start := time.Now()

	if fileID == "" {
		return nil, Meta{}, fmt.Errorf("service: empty file id")
	}

	a, err := s.cache.Lookup(ctx, fileID)
	if err == nil {
		meta := s.finish(fileID, a, StatusHit, start)
		return a, meta, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return nil, Meta{}, fmt.Errorf("service: cache lookup: %w", err)
	}

	a, err = s.fetchShared(ctx, fileID)
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		requestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, Meta{}, err
	}

	meta := s.finish(fileID, a, StatusMiss, start)
	return a, meta, nil
}

// fetchShared collapses concurrent misses for one file id into a single
// fetch. Any caller gives up when its own context expires, but the fetch
// itself runs detached so a cancelled leader cannot fail followers that
// are still waiting; it completes under its own timeout and populates
// the cache.
func (s *AssetService) fetchShared(ctx context.Context, fileID string) (*asset.Asset, error) {
	ch := s.flight.DoChan(fileID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, fileID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*asset.Asset), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("service: fetch %s: %w", fileID, ctx.Err())
	}
}

// fetch is the miss path: resolve, download, convert, store.
func (s *AssetService) fetch(ctx context.Context, fileID string) (*asset.Asset, error) {
	fetchStart := time.Now()

	loc, err := s.fetcher.Resolve(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("service: resolve %s: %w", fileID, err)
	}

	data, err := s.fetcher.Download(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("service: download %s: %w", fileID, err)
	}

	if elapsed := time.Since(fetchStart); elapsed > s.cfg.SlowFetchThreshold {
		s.logger.Warn().
			Str("file_id", fileID).
			Dur("elapsed", elapsed).
			Msg("Slow upstream fetch")
	}

	a := &asset.Asset{
		ID:           fileID,
		SourceFormat: asset.DetectFormat(loc.Path, data),
		Bytes:        data,
		ByteSize:     len(data),
		FetchedAt:    time.Now(),
	}

	if err := s.pipeline.Process(ctx, a); err != nil {
		return nil, fmt.Errorf("service: convert %s: %w", fileID, err)
	}

	// A TGS payload that failed conversion is served but never cached;
	// only its converted Lottie form may be persisted.
	if a.SourceFormat != asset.FormatTGS || a.Converted {
		s.cache.Store(ctx, a, s.cfg.TTL)
	}

	return a, nil
}

func (s *AssetService) finish(fileID string, a *asset.Asset, status CacheStatus, start time.Time) Meta {
	elapsed := time.Since(start)
	requestsTotal.WithLabelValues(string(status)).Inc()
	requestDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())

	if elapsed > s.cfg.SlowRequestThreshold {
		s.logger.Warn().
			Str("file_id", fileID).
			Str("cache_status", string(status)).
			Dur("elapsed", elapsed).
			Msg("Slow sticker request")
	}

	return Meta{
		CacheStatus:    status,
		SourceFormat:   a.SourceFormat,
		OutputFormat:   a.OutputFormat,
		ByteSize:       a.ByteSize,
		Converted:      a.Converted,
		ConversionTime: a.ConversionTime,
		ProcessingTime: elapsed,
	}
}

// Delete evicts one file id from every cache tier.
func (s *AssetService) Delete(ctx context.Context, fileID string) {
	s.cache.Delete(ctx, fileID)
}

// Clear empties every cache tier and returns per-tier removal counts.
func (s *AssetService) Clear(ctx context.Context) (fastDeleted, durableDeleted int) {
	return s.cache.DeleteAll(ctx)
}

// Stats is the aggregated reporting snapshot.
type Stats struct {
	Cache    cache.Stats            `json:"cache"`
	Upstream *upstream.Snapshot     `json:"upstream,omitempty"`
	Rate     *upstream.RateSnapshot `json:"rate_limit,omitempty"`
}

// Stats aggregates cache tier stats with upstream call statistics when
// the fetcher exposes them.
func (s *AssetService) Stats(ctx context.Context) Stats {
	stats := Stats{Cache: s.cache.Stats(ctx)}
	if sp, ok := s.fetcher.(statsProvider); ok {
		snap := sp.Stats()
		rate := sp.RateState()
		stats.Upstream = &snap
		stats.Rate = &rate
	}
	return stats
}
