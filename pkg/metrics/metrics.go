// Package metrics provides the centralized Prometheus registry for the
// sticker cache. All metrics are defined in their respective packages
// (cache, upstream, convert, service) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the sticker cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - sticker_cache_hits_total{tier} (Counter): Cache hits by tier (fast, durable)
//   - sticker_cache_misses_total (Counter): Lookups that missed every tier
//   - sticker_cache_stored_bytes_total{tier} (Counter): Bytes written per tier
//   - sticker_cache_errors_total{tier, operation} (Counter): Tier operation errors
//   - sticker_cache_promotions_total (Counter): Durable hits promoted to the fast tier
//   - sticker_cache_evictions_total{reason} (Counter): Evictions by reason (expired, capacity)
//
// Upstream Metrics (pkg/upstream):
//   - sticker_upstream_requests_total{operation, status} (Counter): API calls by operation and outcome
//   - sticker_upstream_request_duration_seconds{operation} (Histogram): API call duration
//   - sticker_upstream_errors_total{kind} (Counter): Errors by classification
//   - sticker_upstream_bytes_downloaded_total (Counter): Total payload bytes downloaded
//   - sticker_upstream_queue_depth (Gauge): Requests waiting in the dispatch queue
//   - sticker_upstream_dispatch_delay_seconds (Gauge): Current adaptive inter-dispatch delay
//   - sticker_upstream_rate_limit_windows_total (Counter): Cooldown windows opened
//   - sticker_upstream_queue_timeouts_total (Counter): Requests expired while queued or in flight
//
// Conversion Metrics (pkg/convert):
//   - sticker_conversions_total{strategy, status} (Counter): Conversion attempts by strategy
//   - sticker_conversion_duration_seconds (Histogram): End-to-end conversion time
//   - sticker_conversion_fallbacks_total (Counter): Conversions where every strategy failed
//
// Request Metrics (pkg/service):
//   - sticker_requests_total{status} (Counter): Sticker requests by cache status (hit, miss, error)
//   - sticker_request_duration_seconds{status} (Histogram): End-to-end request processing time
