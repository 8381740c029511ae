// Package upstream implements the rate-limited dispatch queue and typed
// client for the remote bot API, together with the adaptive rate state
// and process-wide call statistics.
package upstream

import "time"

// Rate-state tuning. The cooldown window grows 5s per consecutive 429 up
// to one minute; the delay decays one step per streak of successes.
const (
	// WindowPerConsecutive429 is how much cooldown each consecutive 429 adds.
	WindowPerConsecutive429 = 5 * time.Second

	// MaxRateLimitWindow caps the cooldown window.
	MaxRateLimitWindow = 60 * time.Second

	// DefaultSuccessesPerDecay is how many consecutive successes earn one
	// delay decay step.
	DefaultSuccessesPerDecay = 5
)

// RateState is the single process-wide adaptive rate-limit state. It is
// not internally synchronized: the dispatch queue mutates it only inside
// its own critical section, which is the sole writer.
type RateState struct {
	// BaseDelay is the floor spacing between dispatches.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// DecayStep is how much CurrentDelay shrinks per earned decay.
	DecayStep time.Duration

	// SuccessesPerDecay is the streak length required for one decay step.
	SuccessesPerDecay int

	// CurrentDelay is the live inter-dispatch spacing. Invariant:
	// CurrentDelay >= BaseDelay.
	CurrentDelay time.Duration

	// Consecutive429 counts unrecovered throttle signals.
	Consecutive429 int

	// RateLimitedUntil is the end of the active cooldown window.
	// Monotonic non-decreasing while failures accumulate.
	RateLimitedUntil time.Time

	successStreak int
}

// NewRateState creates rate state with the given floor delay. maxDelay
// and decayStep fall back to 10x base and base/3 respectively.
func NewRateState(baseDelay, maxDelay, decayStep time.Duration) *RateState {
	if maxDelay <= 0 {
		maxDelay = 10 * baseDelay
	}
	if decayStep <= 0 {
		decayStep = baseDelay / 3
	}
	return &RateState{
		BaseDelay:         baseDelay,
		MaxDelay:          maxDelay,
		DecayStep:         decayStep,
		SuccessesPerDecay: DefaultSuccessesPerDecay,
		CurrentDelay:      baseDelay,
	}
}

// OnRateLimit records a 429 signal: the delay doubles per consecutive
// failure (capped at MaxDelay) and the cooldown window extends by 5s per
// consecutive failure, capped at 60s. Returns the window duration.
func (s *RateState) OnRateLimit(now time.Time) time.Duration {
	s.Consecutive429++
	s.successStreak = 0

	delay := s.BaseDelay << s.Consecutive429
	if delay > s.MaxDelay || delay <= 0 {
		delay = s.MaxDelay
	}
	s.CurrentDelay = delay

	window := time.Duration(s.Consecutive429) * WindowPerConsecutive429
	if window > MaxRateLimitWindow {
		window = MaxRateLimitWindow
	}
	if until := now.Add(window); until.After(s.RateLimitedUntil) {
		s.RateLimitedUntil = until
	}

	return window
}

// OnSuccess records a successful call: the consecutive-429 count steps
// back toward zero, and a full streak of successes decays the delay one
// step toward (never below) BaseDelay.
func (s *RateState) OnSuccess() {
	if s.Consecutive429 > 0 {
		s.Consecutive429--
	}

	s.successStreak++
	if s.successStreak < s.SuccessesPerDecay || s.CurrentDelay <= s.BaseDelay {
		return
	}
	s.successStreak = 0

	s.CurrentDelay -= s.DecayStep
	if s.CurrentDelay < s.BaseDelay {
		s.CurrentDelay = s.BaseDelay
	}
}

// Blocked reports whether a cooldown window is active at now, and how
// long until it ends.
func (s *RateState) Blocked(now time.Time) (bool, time.Duration) {
	if now.Before(s.RateLimitedUntil) {
		return true, s.RateLimitedUntil.Sub(now)
	}
	return false, 0
}
