package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream API calls.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sticker_upstream_requests_total",
		Help: "Total upstream API requests by operation and status",
	}, []string{"operation", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sticker_upstream_request_duration_seconds",
		Help:    "Upstream API request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sticker_upstream_errors_total",
		Help: "Total upstream errors by kind",
	}, []string{"kind"})

	upstreamBytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sticker_upstream_bytes_downloaded_total",
		Help: "Total bytes downloaded from upstream",
	})
)

// ClientConfig holds the upstream API client configuration.
type ClientConfig struct {
	// BaseURL is the API endpoint root, e.g. "https://api.telegram.org".
	BaseURL string

	// DownloadBaseURL is the file download root, e.g.
	// "https://api.telegram.org/file/bot".
	DownloadBaseURL string

	// Token is the bearer credential. It must never appear in logs in full.
	Token string

	// MaxPayloadBytes rejects downloads above this size; declared sizes
	// are checked before the body is read.
	MaxPayloadBytes int64

	// Timeout is the per-call HTTP timeout.
	Timeout time.Duration

	// MaxConnsPerHost bounds the shared connection pool. Acquisition
	// blocks when exhausted.
	MaxConnsPerHost int

	// DetailedLogging raises per-call log verbosity. It has no effect on
	// statistics collection.
	DetailedLogging bool
}

// Location identifies a resolved upstream file.
type Location struct {
	// Path is the opaque download path returned by the resolve call.
	Path string

	// Size is the declared payload size in bytes, 0 if not declared.
	Size int64
}

// Set is a resolved sticker set.
type Set struct {
	Name    string
	FileIDs []string
}

// Client is the typed request/response mapping over the remote bot API.
// It is used exclusively through the dispatch Queue.
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
	stats      *Statistics
	logger     zerolog.Logger
}

// NewClient creates an upstream client. Every call records one entry into
// stats regardless of log verbosity.
func NewClient(cfg ClientConfig, stats *Statistics, logger zerolog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("upstream token is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	if cfg.DownloadBaseURL == "" {
		cfg.DownloadBaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/file/bot"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 50
	}
	if stats == nil {
		stats = NewStatistics()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnsPerHost * 2,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		cfg:    cfg,
		stats:  stats,
		logger: logger.With().Str("component", "upstream-client").Logger(),
	}, nil
}

// Stats returns the shared statistics set.
func (c *Client) Stats() *Statistics {
	return c.stats
}

// redact strips the bearer credential from a string destined for logs.
func (c *Client) redact(s string) string {
	return strings.ReplaceAll(s, c.cfg.Token, "****")
}

// apiEnvelope is the bot API response wrapper.
type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// Resolve maps a file id to its download location via the describe call.
func (c *Client) Resolve(ctx context.Context, fileID string) (Location, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getFile?file_id=%s",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.Token, url.QueryEscape(fileID))

	requestID := "resolve-" + uuid.NewString()[:8]
	start := time.Now()

	if c.cfg.DetailedLogging {
		c.logger.Debug().
			Str("request_id", requestID).
			Str("file_id", fileID).
			Str("url", c.redact(endpoint)).
			Msg("Resolving file")
	}

	var result struct {
		FilePath string `json:"file_path"`
		FileSize int64  `json:"file_size"`
	}
	if err := c.callAPI(ctx, "resolve", requestID, endpoint, &result); err != nil {
		c.record("resolve", start, 0, err)
		return Location{}, err
	}

	if result.FilePath == "" {
		err := &Error{Kind: KindAPIError, StatusCode: 200, Description: "resolve response missing file path"}
		c.record("resolve", start, 0, err)
		return Location{}, err
	}

	c.record("resolve", start, 0, nil)

	if c.cfg.DetailedLogging {
		c.logger.Debug().
			Str("request_id", requestID).
			Str("file_id", fileID).
			Str("file_path", result.FilePath).
			Int64("file_size", result.FileSize).
			Dur("elapsed", time.Since(start)).
			Msg("Resolve succeeded")
	}

	return Location{Path: result.FilePath, Size: result.FileSize}, nil
}

// StickerSet resolves a sticker-set name to its member file ids.
func (c *Client) StickerSet(ctx context.Context, name string) (*Set, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getStickerSet?name=%s",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.Token, url.QueryEscape(name))

	requestID := "set-" + uuid.NewString()[:8]
	start := time.Now()

	var result struct {
		Name     string `json:"name"`
		Stickers []struct {
			FileID string `json:"file_id"`
		} `json:"stickers"`
	}
	if err := c.callAPI(ctx, "sticker_set", requestID, endpoint, &result); err != nil {
		c.record("sticker_set", start, 0, err)
		return nil, err
	}
	c.record("sticker_set", start, 0, nil)

	set := &Set{Name: result.Name}
	for _, s := range result.Stickers {
		set.FileIDs = append(set.FileIDs, s.FileID)
	}
	return set, nil
}

// callAPI performs one envelope-wrapped API call and decodes the result.
func (c *Client) callAPI(ctx context.Context, operation, requestID, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransportError(ctx, err)
	}

	var envelope apiEnvelope
	if jerr := json.Unmarshal(body, &envelope); jerr != nil || !envelope.OK {
		status := resp.StatusCode
		description := envelope.Description
		if description == "" {
			description = strings.TrimSpace(string(body[:min(len(body), 200)]))
		}
		// The API reports its real status in the envelope even on HTTP 200.
		if envelope.ErrorCode != 0 {
			status = envelope.ErrorCode
		}
		cerr := classifyStatus(status, description)
		c.logger.Warn().
			Str("request_id", requestID).
			Str("operation", operation).
			Int("status", status).
			Str("kind", string(cerr.Kind)).
			Str("description", c.redact(description)).
			Msg("Upstream API error")
		return cerr
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &Error{Kind: KindAPIError, StatusCode: resp.StatusCode, Description: "malformed result payload", Err: err}
	}
	return nil
}

// Download streams the payload at a resolved location. Sizes above the
// configured maximum are rejected before the body is read when declared,
// and after a bounded read otherwise.
func (c *Client) Download(ctx context.Context, loc Location) ([]byte, error) {
	start := time.Now()
	requestID := "download-" + uuid.NewString()[:8]

	if c.cfg.MaxPayloadBytes > 0 && loc.Size > c.cfg.MaxPayloadBytes {
		err := &Error{
			Kind:        KindFileTooLarge,
			Description: fmt.Sprintf("declared size %d exceeds maximum %d", loc.Size, c.cfg.MaxPayloadBytes),
		}
		c.record("download", start, 0, err)
		return nil, err
	}

	endpoint := fmt.Sprintf("%s%s/%s",
		c.cfg.DownloadBaseURL, c.cfg.Token, strings.TrimPrefix(loc.Path, "/"))

	if c.cfg.DetailedLogging {
		c.logger.Debug().
			Str("request_id", requestID).
			Str("file_path", loc.Path).
			Str("url", c.redact(endpoint)).
			Msg("Downloading file")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cerr := classifyTransportError(ctx, err)
		c.record("download", start, 0, cerr)
		return nil, cerr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		cerr := classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
		c.logger.Warn().
			Str("request_id", requestID).
			Str("file_path", loc.Path).
			Int("status", resp.StatusCode).
			Str("kind", string(cerr.Kind)).
			Msg("Upstream download error")
		c.record("download", start, 0, cerr)
		return nil, cerr
	}

	if c.cfg.MaxPayloadBytes > 0 && resp.ContentLength > c.cfg.MaxPayloadBytes {
		cerr := &Error{
			Kind:        KindFileTooLarge,
			StatusCode:  resp.StatusCode,
			Description: fmt.Sprintf("content length %d exceeds maximum %d", resp.ContentLength, c.cfg.MaxPayloadBytes),
		}
		c.record("download", start, 0, cerr)
		return nil, cerr
	}

	reader := resp.Body
	limit := c.cfg.MaxPayloadBytes
	var data []byte
	if limit > 0 {
		data, err = io.ReadAll(io.LimitReader(reader, limit+1))
	} else {
		data, err = io.ReadAll(reader)
	}
	if err != nil {
		cerr := classifyTransportError(ctx, err)
		c.record("download", start, 0, cerr)
		return nil, cerr
	}
	if limit > 0 && int64(len(data)) > limit {
		cerr := &Error{
			Kind:        KindFileTooLarge,
			Description: fmt.Sprintf("payload exceeds maximum %d bytes", limit),
		}
		c.record("download", start, 0, cerr)
		return nil, cerr
	}

	c.record("download", start, len(data), nil)

	if c.cfg.DetailedLogging {
		c.logger.Debug().
			Str("request_id", requestID).
			Str("file_path", loc.Path).
			Int("byte_size", len(data)).
			Dur("elapsed", time.Since(start)).
			Msg("Download succeeded")
	}

	return data, nil
}

// record files one call outcome into statistics and metrics. Statistics
// are collected unconditionally; DetailedLogging only affects log output.
func (c *Client) record(operation string, start time.Time, bytesDownloaded int, err error) {
	elapsed := time.Since(start)
	upstreamRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())

	if err == nil {
		c.stats.RecordSuccess(elapsed, bytesDownloaded)
		upstreamRequestsTotal.WithLabelValues(operation, "ok").Inc()
		if bytesDownloaded > 0 {
			upstreamBytesDownloaded.Add(float64(bytesDownloaded))
		}
		return
	}

	kind := KindOf(err)
	if kind == "" {
		kind = KindNetwork
	}
	c.stats.RecordError(kind, elapsed)
	upstreamRequestsTotal.WithLabelValues(operation, string(kind)).Inc()
	upstreamErrorsTotal.WithLabelValues(string(kind)).Inc()
}
