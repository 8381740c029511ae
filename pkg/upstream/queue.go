package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for the dispatch queue.
var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sticker_upstream_queue_depth",
		Help: "Number of requests waiting in the upstream dispatch queue",
	})

	queueCurrentDelay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sticker_upstream_dispatch_delay_seconds",
		Help: "Current adaptive inter-dispatch delay in seconds",
	})

	queueRateLimitWindows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sticker_upstream_rate_limit_windows_total",
		Help: "Total rate-limit cooldown windows opened",
	})

	queueTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sticker_upstream_queue_timeouts_total",
		Help: "Total requests that exceeded their deadline while queued or in flight",
	})
)

// api is the surface the queue dispatches against. *Client implements it.
type api interface {
	Resolve(ctx context.Context, fileID string) (Location, error)
	Download(ctx context.Context, loc Location) ([]byte, error)
	StickerSet(ctx context.Context, name string) (*Set, error)
}

type outcome struct {
	value any
	err   error
}

// request is one queued upstream call. Created on submit, consumed
// exactly once by the dispatch loop, finished on completion or timeout.
type request struct {
	id         string
	kind       string
	run        func(ctx context.Context) (any, error)
	ctx        context.Context
	enqueuedAt time.Time
	deadline   time.Time
	done       chan outcome
}

func (r *request) expired(now time.Time) bool {
	return !r.deadline.IsZero() && now.After(r.deadline)
}

func (r *request) finish(value any, err error) {
	r.done <- outcome{value: value, err: err}
}

// Queue is the single-flight-ordered dispatcher to the upstream API. One
// dispatch goroutine pulls requests in strict FIFO submission order and
// paces them by the shared adaptive RateState; up to maxConcurrent calls
// may be in flight at once, but all share the one delay/backoff clock.
//
// A failed request is never auto-retried: a 429 slows down future
// dispatches, and the error goes back to the caller.
type Queue struct {
	client   api
	state    *RateState
	stats    *Statistics
	requests chan *request
	slots    *semaphore.Weighted
	logger   zerolog.Logger

	// mu is the single critical section guarding RateState and the
	// dispatch clock.
	mu           sync.Mutex
	lastDispatch time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// QueueConfig holds dispatcher tuning.
type QueueConfig struct {
	// MaxConcurrent is the number of calls allowed in flight at once.
	MaxConcurrent int

	// Depth is the submission buffer size.
	Depth int
}

// NewQueue creates a dispatcher over client with the shared rate state.
func NewQueue(client api, state *RateState, stats *Statistics, cfg QueueConfig, logger zerolog.Logger) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 256
	}
	if stats == nil {
		stats = NewStatistics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client:   client,
		state:    state,
		stats:    stats,
		requests: make(chan *request, cfg.Depth),
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:   logger.With().Str("component", "upstream-queue").Logger(),
		baseCtx:  ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
	queueCurrentDelay.Set(state.CurrentDelay.Seconds())
	return q
}

// Start launches the dispatch loop.
func (q *Queue) Start() {
	go q.loop()
}

// Stop terminates the dispatch loop. Queued requests fail with Timeout.
func (q *Queue) Stop() {
	q.cancel()
	<-q.stopped
}

// Resolve submits a describe call and suspends until it completes, fails
// or exceeds its deadline.
func (q *Queue) Resolve(ctx context.Context, fileID string) (Location, error) {
	value, err := q.submit(ctx, "resolve", func(ctx context.Context) (any, error) {
		return q.client.Resolve(ctx, fileID)
	})
	if err != nil {
		return Location{}, err
	}
	return value.(Location), nil
}

// Download submits a payload download.
func (q *Queue) Download(ctx context.Context, loc Location) ([]byte, error) {
	value, err := q.submit(ctx, "download", func(ctx context.Context) (any, error) {
		return q.client.Download(ctx, loc)
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// StickerSet submits a sticker-set resolve.
func (q *Queue) StickerSet(ctx context.Context, name string) (*Set, error) {
	value, err := q.submit(ctx, "sticker_set", func(ctx context.Context) (any, error) {
		return q.client.StickerSet(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return value.(*Set), nil
}

func (q *Queue) submit(ctx context.Context, kind string, run func(ctx context.Context) (any, error)) (any, error) {
	req := &request{
		id:         uuid.NewString(),
		kind:       kind,
		run:        run,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		done:       make(chan outcome, 1),
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.deadline = deadline
	}

	select {
	case q.requests <- req:
		queueDepth.Inc()
	case <-ctx.Done():
		queueTimeouts.Inc()
		return nil, &Error{Kind: KindTimeout, Description: "queue submission cancelled", Err: ctx.Err()}
	case <-q.baseCtx.Done():
		return nil, &Error{Kind: KindTimeout, Description: "queue stopped"}
	}

	select {
	case out := <-req.done:
		return out.value, out.err
	case <-ctx.Done():
		// The dispatched call's result, if any, is discarded.
		queueTimeouts.Inc()
		return nil, &Error{Kind: KindTimeout, Description: "request deadline exceeded", Err: ctx.Err()}
	case <-q.baseCtx.Done():
		return nil, &Error{Kind: KindTimeout, Description: "queue stopped"}
	}
}

func (q *Queue) loop() {
	defer close(q.stopped)

	for {
		select {
		case <-q.baseCtx.Done():
			q.drain()
			return
		case req := <-q.requests:
			queueDepth.Dec()
			q.dispatch(req)
		}
	}
}

// drain fails everything still queued at shutdown.
func (q *Queue) drain() {
	for {
		select {
		case req := <-q.requests:
			queueDepth.Dec()
			req.finish(nil, &Error{Kind: KindTimeout, Description: "queue stopped"})
		default:
			return
		}
	}
}

// dispatch paces one request and hands the call to an in-flight slot.
func (q *Queue) dispatch(req *request) {
	now := time.Now()
	if req.expired(now) {
		// Expired while queued: discarded without touching the rate state.
		queueTimeouts.Inc()
		req.finish(nil, &Error{Kind: KindTimeout, Description: "deadline passed while queued"})
		return
	}

	// An active cooldown window suspends the whole loop; nothing
	// bypasses it.
	q.mu.Lock()
	blocked, wait := q.state.Blocked(now)
	q.mu.Unlock()
	if blocked {
		q.logger.Warn().
			Dur("wait", wait).
			Msg("Rate limit window active, dispatch paused")
		if !q.sleep(wait) {
			req.finish(nil, &Error{Kind: KindTimeout, Description: "queue stopped"})
			return
		}
	}

	// Enforce the adaptive spacing since the previous dispatch.
	q.mu.Lock()
	spacing := q.state.CurrentDelay - time.Since(q.lastDispatch)
	q.mu.Unlock()
	if spacing > 0 {
		if !q.sleep(spacing) {
			req.finish(nil, &Error{Kind: KindTimeout, Description: "queue stopped"})
			return
		}
	}

	if req.expired(time.Now()) {
		queueTimeouts.Inc()
		req.finish(nil, &Error{Kind: KindTimeout, Description: "deadline passed while queued"})
		return
	}

	// Blocking here keeps dispatch order FIFO while bounding in-flight
	// calls.
	if err := q.slots.Acquire(q.baseCtx, 1); err != nil {
		req.finish(nil, &Error{Kind: KindTimeout, Description: "queue stopped"})
		return
	}

	q.mu.Lock()
	q.lastDispatch = time.Now()
	q.mu.Unlock()

	go func() {
		defer q.slots.Release(1)
		value, err := req.run(req.ctx)
		q.observe(req, err)
		req.finish(value, err)
	}()
}

// observe folds one call outcome into the shared rate state. Client-side
// timeouts are not upstream failures and leave the state untouched; other
// classified errors neither advance nor decay the clock.
func (q *Queue) observe(req *request, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case err == nil:
		q.state.OnSuccess()
	case IsRateLimited(err):
		window := q.state.OnRateLimit(time.Now())
		queueRateLimitWindows.Inc()
		q.logger.Warn().
			Str("request_id", req.id).
			Str("kind", req.kind).
			Int("consecutive_429", q.state.Consecutive429).
			Dur("current_delay", q.state.CurrentDelay).
			Dur("window", window).
			Msg("Upstream throttle signal, backing off")
	case KindOf(err) == KindTimeout:
	}

	queueCurrentDelay.Set(q.state.CurrentDelay.Seconds())
}

// sleep waits d unless the queue is stopped first.
func (q *Queue) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.baseCtx.Done():
		return false
	}
}

// RateSnapshot is a read-only view of the adaptive rate state.
type RateSnapshot struct {
	BaseDelay        time.Duration `json:"base_delay"`
	CurrentDelay     time.Duration `json:"current_delay"`
	Consecutive429   int           `json:"consecutive_429"`
	RateLimitedUntil time.Time     `json:"rate_limited_until"`
}

// Stats returns a snapshot of the call statistics.
func (q *Queue) Stats() Snapshot {
	return q.stats.Snapshot()
}

// RateState returns a snapshot of the shared rate state.
func (q *Queue) RateState() RateSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return RateSnapshot{
		BaseDelay:        q.state.BaseDelay,
		CurrentDelay:     q.state.CurrentDelay,
		Consecutive429:   q.state.Consecutive429,
		RateLimitedUntil: q.state.RateLimitedUntil,
	}
}
