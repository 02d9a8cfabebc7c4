package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/metatron/internal/observability"
)

// SlidingWindow admits at most MaxRequests calls per key within any trailing
// window. Callers over the ceiling are suspended, never rejected.
type SlidingWindow struct {
	max    int
	window time.Duration

	mu   sync.Mutex
	keys map[string][]time.Time

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *observability.Metrics
}

// LimiterOption configures a SlidingWindow.
type LimiterOption func(*SlidingWindow)

func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *SlidingWindow) { l.now = now }
}

func WithLimiterSleeper(fn func(ctx context.Context, d time.Duration) error) LimiterOption {
	return func(l *SlidingWindow) { l.sleep = fn }
}

func WithLimiterMetrics(m *observability.Metrics) LimiterOption {
	return func(l *SlidingWindow) { l.metrics = m }
}

// NewSlidingWindow creates a limiter. Non-positive arguments fall back to
// 100 requests per 60 seconds.
func NewSlidingWindow(maxRequests int, window time.Duration, opts ...LimiterOption) *SlidingWindow {
	if maxRequests <= 0 {
		maxRequests = 100
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	l := &SlidingWindow{
		max:    maxRequests,
		window: window,
		keys:   make(map[string][]time.Time),
		now:    time.Now,
		sleep:  SleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire records a request for key, first waiting as long as the window is
// full. It only fails when ctx ends while waiting.
func (l *SlidingWindow) Acquire(ctx context.Context, key string) error {
	var waited time.Duration
	for {
		wait, ok := l.tryRecord(key)
		if ok {
			if waited > 0 {
				l.metrics.RecordRateLimitWait(key, waited.Seconds())
			}
			return nil
		}
		slog.Warn("rate limit reached, waiting", "key", key, "wait", wait)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// tryRecord purges expired entries and, if there is room, appends now. Both
// steps happen under one lock hold. When the window is full it returns the
// time until the oldest entry expires.
func (l *SlidingWindow) tryRecord(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ts := purge(l.keys[key], now.Add(-l.window))
	if len(ts) < l.max {
		l.keys[key] = append(ts, now)
		return 0, true
	}
	l.keys[key] = ts
	return l.window - now.Sub(ts[0]), false
}

// purge drops timestamps at or before cutoff. ts is in ascending order.
func purge(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}

// Len returns the number of timestamps currently retained for key.
func (l *SlidingWindow) Len(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys[key])
}

// Sweep forgets keys whose windows have fully expired and returns how many
// were removed.
func (l *SlidingWindow) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for key, ts := range l.keys {
		if len(purge(ts, cutoff)) == 0 {
			delete(l.keys, key)
			removed++
		}
	}
	return removed
}
