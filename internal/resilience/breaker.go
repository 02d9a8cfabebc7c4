package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the circuit breakers created by a BreakerSet.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts reset.
	Interval time.Duration
	// Timeout an open breaker waits before probing again.
	Timeout time.Duration
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerSet lazily creates one circuit breaker per upstream service.
// Errors that are not retryable (bad input, auth) do not count as upstream
// failures.
type BreakerSet struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	if cfg.ConsecutiveFailures == 0 {
		cfg = DefaultBreakerConfig()
	}
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (s *BreakerSet) Get(name string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	threshold := s.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.cfg.MaxRequests,
		Interval:    s.cfg.Interval,
		Timeout:     s.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "upstream", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
	})
	s.breakers[name] = cb
	return cb
}

// States reports the current state of every known breaker.
func (s *BreakerSet) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.breakers))
	for name, cb := range s.breakers {
		out[name] = cb.State().String()
	}
	return out
}
