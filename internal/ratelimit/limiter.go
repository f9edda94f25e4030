package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// Limiter is a sliding-window admission counter. It stores the instants at
// which requests were recorded and counts those younger than the window.
//
// Checking and recording are separate steps: CanMakeRequest never records and
// Record never refuses. Callers decide what to do with a denied check.
type Limiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	now        func() time.Time
	timestamps []time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLimiter creates a limiter admitting limit requests per window.
// Non-positive values fall back to the defaults.
func NewLimiter(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the number of requests admitted per window.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the trailing window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// RecentRequests returns the recorded instants younger than the window,
// oldest first, and drops the stale ones from the stored state.
func (l *Limiter) RecentRequests() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.pruneLocked(l.now())
	out := make([]time.Time, len(recent))
	copy(out, recent)
	return out
}

// CanMakeRequest reports whether another request fits in the window.
func (l *Limiter) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.pruneLocked(l.now())) < l.limit
}

// Record stores the current instant as a request.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.timestamps = append(l.pruneLocked(now), now)
}

// SecondsUntilReset returns the whole seconds, rounded up, until the oldest
// recent request leaves the window. It is 0 when nothing is recent.
func (l *Limiter) SecondsUntilReset() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.pruneLocked(now)
	if len(recent) == 0 {
		return 0
	}
	return secondsUntil(l.window - now.Sub(recent[0]))
}

// Status is a point-in-time view of the limiter.
type Status struct {
	Limit     int    `json:"limit"`
	Recent    int    `json:"recent"`
	Remaining int    `json:"remaining"`
	Limited   bool   `json:"limited"`
	ResetIn   int    `json:"reset_in_seconds"`
	Message   string `json:"message,omitempty"`
}

// Status evaluates the limiter once under a single clock reading.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.pruneLocked(now)
	st := Status{
		Limit:     l.limit,
		Recent:    len(recent),
		Remaining: max(l.limit-len(recent), 0),
		Limited:   len(recent) >= l.limit,
	}
	if len(recent) > 0 {
		st.ResetIn = secondsUntil(l.window - now.Sub(recent[0]))
	}
	if st.Limited {
		st.Message = LimitMessage(l.limit, st.ResetIn)
	}
	return st
}

// LimitMessage is the advisory shown while the limit is reached.
func LimitMessage(limit, seconds int) string {
	return fmt.Sprintf("Rate limit reached (%d requests per minute). Please wait %d seconds to try again.", limit, seconds)
}

// pruneLocked drops timestamps whose age is at least the window. Timestamps
// are appended in clock order, so the stale ones form a prefix.
func (l *Limiter) pruneLocked(now time.Time) []time.Time {
	cut := 0
	for cut < len(l.timestamps) && now.Sub(l.timestamps[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[cut:]...)
	}
	return l.timestamps
}

func secondsUntil(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
