package api

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter is one client's token bucket and when it was last used.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle applies a per-client token bucket to inbound requests. Clients
// are keyed by the X-User-ID header, falling back to the remote address.
type Throttle struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewThrottle creates a Throttle allowing rps requests per second per client
// with the given burst. A non-positive rps disables throttling.
func NewThrottle(rps float64, burst int) *Throttle {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &Throttle{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether client may make a request now.
func (t *Throttle) Allow(client string) bool {
	if t == nil || t.rps <= 0 {
		return true
	}
	now := t.now()
	t.mu.Lock()
	c, ok := t.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.clients[client] = c
	}
	c.lastSeen = now
	t.mu.Unlock()
	return c.limiter.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than maxAge and returns how many
// were removed.
func (t *Throttle) Sweep(maxAge time.Duration) int {
	if t == nil {
		return 0
	}
	cutoff := t.now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, c := range t.clients {
		if c.lastSeen.Before(cutoff) {
			delete(t.clients, key)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients.
func (t *Throttle) Clients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Middleware rejects throttled requests with 429.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Allow(clientKey(r)) {
			retry := 1
			if t.rps > 0 {
				retry = int(math.Ceil(1 / float64(t.rps)))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "too many requests, please slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(userHeader)); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}
