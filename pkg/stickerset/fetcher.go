// Package stickerset provides parallel warm-up fetching for whole
// sticker sets.
package stickerset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapstix/sticker-cache/pkg/asset"
	"github.com/snapstix/sticker-cache/pkg/service"
	"github.com/snapstix/sticker-cache/pkg/upstream"
)

// Resolver maps a set name to its member file ids. *upstream.Queue
// implements it.
type Resolver interface {
	StickerSet(ctx context.Context, name string) (*upstream.Set, error)
}

// Getter serves single stickers. *service.AssetService implements it.
type Getter interface {
	Get(ctx context.Context, fileID string) (*asset.Asset, service.Meta, error)
}

// Config holds set fetcher tuning.
type Config struct {
	// MaxConcurrency is the number of parallel member fetches. The
	// upstream dispatch queue still paces actual API calls.
	MaxConcurrency int

	// Timeout bounds one member fetch.
	Timeout time.Duration
}

// Result is the outcome of one set fetch. A set with failed members is
// still a success; failures are reported per file id.
type Result struct {
	Name    string            `json:"name"`
	Total   int               `json:"total"`
	Fetched []*asset.Asset    `json:"-"`
	Failed  map[string]string `json:"failed,omitempty"`
	Elapsed time.Duration     `json:"elapsed"`
}

// Fetcher resolves a sticker set and fetches its members through the
// cache-first service with a worker pool.
type Fetcher struct {
	resolver Resolver
	assets   Getter
	cfg      Config
	logger   zerolog.Logger
}

// NewFetcher creates a set fetcher.
func NewFetcher(resolver Resolver, assets Getter, cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Fetcher{
		resolver: resolver,
		assets:   assets,
		cfg:      cfg,
		logger:   logger.With().Str("component", "set-fetcher").Logger(),
	}
}

type memberResult struct {
	fileID string
	a      *asset.Asset
	err    error
}

// Fetch resolves a set name and fetches every member in parallel.
// Member failures do not fail the set.
func (f *Fetcher) Fetch(ctx context.Context, name string) (*Result, error) {
	start := time.Now()

	set, err := f.resolver.StickerSet(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("stickerset: resolve %q: %w", name, err)
	}

	f.logger.Info().
		Str("set", set.Name).
		Int("members", len(set.FileIDs)).
		Msg("Starting parallel set fetch")

	queue := make(chan string, len(set.FileIDs))
	results := make(chan memberResult, len(set.FileIDs))
	for _, id := range set.FileIDs {
		queue <- id
	}
	close(queue)

	var wg sync.WaitGroup
	for range f.cfg.MaxConcurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.worker(ctx, queue, results)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	result := &Result{
		Name:   set.Name,
		Total:  len(set.FileIDs),
		Failed: make(map[string]string),
	}
	for mr := range results {
		if mr.err != nil {
			f.logger.Warn().
				Err(mr.err).
				Str("set", set.Name).
				Str("file_id", mr.fileID).
				Msg("Set member fetch failed")
			result.Failed[mr.fileID] = mr.err.Error()
			continue
		}
		result.Fetched = append(result.Fetched, mr.a)
	}

	result.Elapsed = time.Since(start)
	f.logger.Info().
		Str("set", set.Name).
		Int("fetched", len(result.Fetched)).
		Int("failed", len(result.Failed)).
		Dur("elapsed", result.Elapsed).
		Msg("Set fetch complete")

	return result, nil
}

func (f *Fetcher) worker(ctx context.Context, queue <-chan string, results chan<- memberResult) {
	for fileID := range queue {
		if ctx.Err() != nil {
			results <- memberResult{fileID: fileID, err: ctx.Err()}
			continue
		}

		memberCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		a, _, err := f.assets.Get(memberCtx, fileID)
		cancel()

		results <- memberResult{fileID: fileID, a: a, err: err}
	}
}
