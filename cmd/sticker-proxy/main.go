// Command sticker-proxy serves stickers through the tiered cache with a
// rate-limited upstream fetch path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/snapstix/sticker-cache/internal/config"
	"github.com/snapstix/sticker-cache/pkg/cache"
	"github.com/snapstix/sticker-cache/pkg/convert"
	"github.com/snapstix/sticker-cache/pkg/logging"
	"github.com/snapstix/sticker-cache/pkg/service"
	"github.com/snapstix/sticker-cache/pkg/stickerset"
	"github.com/snapstix/sticker-cache/pkg/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	// Fast tier is optional: a missing or unreachable Redis degrades to
	// durable-only operation.
	var fast cache.FastTier
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unreachable, running durable-only")
		} else {
			fast = cache.NewRedisTier(redisClient)
			logger.Info().Str("redis_url", cfg.RedisURL).Msg("Fast tier connected")
		}
	}

	durable, err := cache.NewDiskTier(cfg.CacheDir, cfg.CacheTTL, cfg.DurableMaxBytes, logger)
	if err != nil {
		return fmt.Errorf("open disk tier: %w", err)
	}

	strategy := cache.DefaultStrategy()
	strategy.FastMaxBytes = int(cfg.FastMaxBytes)
	strategy.DurableMaxBytes = int(cfg.DurableMaxBytes)
	manager := cache.NewManager(fast, durable, strategy, logger)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go cache.NewSweeper(durable, cfg.SweepInterval, logger).Run(sweepCtx)

	stats := upstream.NewStatistics()
	client, err := upstream.NewClient(upstream.ClientConfig{
		BaseURL:         cfg.UpstreamBaseURL,
		Token:           cfg.UpstreamToken,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		Timeout:         cfg.UpstreamTimeout,
		DetailedLogging: cfg.DetailedLogging,
	}, stats, logger)
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}

	state := upstream.NewRateState(cfg.BaseDelay, cfg.MaxDelay, 0)
	queue := upstream.NewQueue(client, state, stats, upstream.QueueConfig{
		MaxConcurrent: cfg.QueueMaxConcurrent,
		Depth:         cfg.QueueDepth,
	}, logger)
	queue.Start()
	defer queue.Stop()

	pipeline := convert.NewPipeline(nil, convert.PipelineConfig{
		MaxWorkers: cfg.ConvertWorkers,
		Timeout:    cfg.ConvertTimeout,
	}, logger)

	svc := service.New(manager, queue, pipeline, service.Config{TTL: cfg.CacheTTL}, logger)
	setFetcher := stickerset.NewFetcher(queue, svc, stickerset.Config{
		MaxConcurrency: cfg.SetConcurrency,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stickers/{fileID}", stickerHandler(svc))
	mux.HandleFunc("GET /sets/{name}", setHandler(setFetcher))
	mux.HandleFunc("GET /api/stats", statsHandler(svc))
	mux.HandleFunc("DELETE /api/cache", clearHandler(svc))
	mux.HandleFunc("DELETE /api/cache/{fileID}", deleteHandler(svc))
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("Starting sticker proxy")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func stickerHandler(svc *service.AssetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := r.PathValue("fileID")

		a, meta, err := svc.Get(r.Context(), fileID)
		if err != nil {
			writeUpstreamError(w, err)
			return
		}

		for key, value := range meta.Headers() {
			w.Header().Set(key, value)
		}
		w.Header().Set("Content-Type", a.MIMEType())
		w.Header().Set("Content-Length", fmt.Sprint(a.ByteSize))
		w.Write(a.Bytes)
	}
}

func setHandler(fetcher *stickerset.Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := fetcher.Fetch(r.Context(), r.PathValue("name"))
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":    result.Name,
			"total":   result.Total,
			"fetched": len(result.Fetched),
			"failed":  result.Failed,
			"elapsed": result.Elapsed.String(),
		})
	}
}

func statsHandler(svc *service.AssetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Stats(r.Context()))
	}
}

func clearHandler(svc *service.AssetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fastDeleted, durableDeleted := svc.Clear(r.Context())
		writeJSON(w, http.StatusOK, map[string]int{
			"fast_deleted":    fastDeleted,
			"durable_deleted": durableDeleted,
		})
	}
}

func deleteHandler(svc *service.AssetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Delete(r.Context(), r.PathValue("fileID"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// writeUpstreamError maps classified upstream errors to HTTP statuses.
func writeUpstreamError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch upstream.KindOf(err) {
	case upstream.KindNotFound:
		status = http.StatusNotFound
	case upstream.KindForbidden:
		status = http.StatusBadGateway
	case upstream.KindRateLimited:
		status = http.StatusServiceUnavailable
	case upstream.KindTimeout:
		status = http.StatusGatewayTimeout
	case upstream.KindFileTooLarge:
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
