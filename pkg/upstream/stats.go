package upstream

import (
	"sync"
	"time"
)

// Statistics is the process-wide upstream call counter set. All mutation
// goes through RecordSuccess/RecordError under one mutex; readers take a
// Snapshot. Counters only reset on process restart.
type Statistics struct {
	mu              sync.Mutex
	total           uint64
	success         uint64
	failed          uint64
	rateLimited     uint64
	bytesDownloaded uint64
	latencySum      time.Duration
	errorsByKind    map[ErrorKind]uint64
}

// Snapshot is a point-in-time read of Statistics.
type Snapshot struct {
	Total           uint64               `json:"total_requests"`
	Success         uint64               `json:"successful_requests"`
	Failed          uint64               `json:"failed_requests"`
	RateLimited     uint64               `json:"rate_limited_requests"`
	BytesDownloaded uint64               `json:"total_bytes_downloaded"`
	SuccessRate     float64              `json:"success_rate_percent"`
	AvgLatency      time.Duration        `json:"avg_latency"`
	ErrorsByKind    map[ErrorKind]uint64 `json:"errors_by_kind"`
}

// NewStatistics creates an empty counter set.
func NewStatistics() *Statistics {
	return &Statistics{errorsByKind: make(map[ErrorKind]uint64)}
}

// RecordSuccess records one successful call.
func (s *Statistics) RecordSuccess(latency time.Duration, bytesDownloaded int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.success++
	s.latencySum += latency
	s.bytesDownloaded += uint64(bytesDownloaded)
}

// RecordError records one failed call under its error kind.
func (s *Statistics) RecordError(kind ErrorKind, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.failed++
	s.latencySum += latency
	s.errorsByKind[kind]++
	if kind == KindRateLimited {
		s.rateLimited++
	}
}

// Snapshot returns a copy of the counters with derived rates.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Total:           s.total,
		Success:         s.success,
		Failed:          s.failed,
		RateLimited:     s.rateLimited,
		BytesDownloaded: s.bytesDownloaded,
		ErrorsByKind:    make(map[ErrorKind]uint64, len(s.errorsByKind)),
	}
	for k, v := range s.errorsByKind {
		snap.ErrorsByKind[k] = v
	}
	if s.total > 0 {
		snap.SuccessRate = float64(s.success) / float64(s.total) * 100
		snap.AvgLatency = s.latencySum / time.Duration(s.total)
	}
	return snap
}
