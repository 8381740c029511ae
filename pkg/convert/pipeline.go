// Package convert turns animated TGS stickers into plain Lottie JSON.
// A pipeline runs a chain of conversion strategies under a bounded
// worker pool; when every strategy fails the original payload passes
// through unconverted so the caller can still serve it.
package convert

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/snapstix/sticker-cache/pkg/asset"
)

var (
	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sticker_conversions_total",
		Help: "Total conversion attempts by strategy and outcome",
	}, []string{"strategy", "status"})

	conversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sticker_conversion_duration_seconds",
		Help:    "End-to-end conversion time including queueing for a worker slot",
		Buckets: prometheus.DefBuckets,
	})

	conversionFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sticker_conversion_fallbacks_total",
		Help: "Total conversions where every strategy failed and the original payload was kept",
	})
)

// PipelineConfig holds conversion tuning.
type PipelineConfig struct {
	// MaxWorkers bounds concurrent conversions.
	MaxWorkers int

	// Timeout is the budget for one conversion across all strategies.
	Timeout time.Duration
}

// Pipeline runs the strategy chain for TGS payloads. Non-TGS assets
// pass through untouched.
type Pipeline struct {
	strategies []Strategy
	slots      *semaphore.Weighted
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewPipeline creates a pipeline over the given strategy chain.
func NewPipeline(strategies []Strategy, cfg PipelineConfig, logger zerolog.Logger) *Pipeline {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Pipeline{
		strategies: strategies,
		slots:      semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		timeout:    cfg.Timeout,
		logger:     logger.With().Str("component", "convert-pipeline").Logger(),
	}
}

// Process converts a TGS asset to Lottie in place. On success the asset
// carries the compacted animation with Converted set; when every
// strategy fails the asset keeps its original payload and Converted
// stays false. The only error returned is context cancellation before
// a worker slot became free.
func (p *Pipeline) Process(ctx context.Context, a *asset.Asset) error {
	if a.SourceFormat != asset.FormatTGS {
		a.OutputFormat = a.SourceFormat
		return nil
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("convert: acquire worker slot: %w", err)
	}
	defer p.slots.Release(1)

	start := time.Now()
	defer func() {
		conversionDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	for _, s := range p.strategies {
		if !s.Available() {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		converted, err := s.Convert(ctx, a.Bytes)
		if err != nil {
			conversionsTotal.WithLabelValues(s.Name(), "failure").Inc()
			p.logger.Debug().
				Err(err).
				Str("file_id", a.ID).
				Str("strategy", s.Name()).
				Msg("Conversion strategy failed")
			continue
		}

		conversionsTotal.WithLabelValues(s.Name(), "success").Inc()
		a.Bytes = converted
		a.ByteSize = len(converted)
		a.OutputFormat = asset.FormatLottie
		a.Converted = true
		a.ConversionTime = time.Since(start)
		p.logger.Debug().
			Str("file_id", a.ID).
			Str("strategy", s.Name()).
			Int("bytes", a.ByteSize).
			Dur("duration", a.ConversionTime).
			Msg("Sticker converted")
		return nil
	}

	// Every strategy failed. Serve the original payload rather than
	// nothing; it never reaches the fast cache tier.
	conversionFallbacks.Inc()
	a.OutputFormat = a.SourceFormat
	a.Converted = false
	p.logger.Warn().
		Str("file_id", a.ID).
		Int("bytes", a.ByteSize).
		Msg("All conversion strategies failed, keeping original payload")
	return nil
}
