package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/metatron/internal/resilience"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestClient() *Client {
	exec := resilience.NewExecutor(resilience.WithSleeper(noSleep))
	limiter := resilience.NewSlidingWindow(100, time.Minute)
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 10})
	return New(exec, limiter, breakers)
}

func TestDoRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"q":"go"}` {
			t.Errorf("body not resent intact: %q", body)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newTestClient()
	var out struct {
		OK bool `json:"ok"`
	}
	meta, err := c.DoJSON(context.Background(), Request{
		Tool:    "test_tool",
		Service: "test",
		Method:  http.MethodPost,
		URL:     server.URL,
		Body:    []byte(`{"q":"go"}`),
		Policy:  resilience.DefaultRetryPolicy(),
	}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !out.OK {
		t.Error("expected decoded response")
	}
	if calls.Load() != 3 || meta.RetryCount != 2 || !meta.Success {
		t.Errorf("expected 3 calls and retry_count 2, got %d calls, meta %+v", calls.Load(), meta)
	}
}

func TestDoDoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient()
	_, _, err := c.Do(context.Background(), Request{Tool: "t", Service: "test", URL: server.URL, Policy: resilience.DefaultRetryPolicy()})
	var se *resilience.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestDoAttemptTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	c := newTestClient()
	policy := resilience.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2, Timeout: 20 * time.Millisecond}
	_, meta, err := c.Do(context.Background(), Request{Tool: "slow", Service: "test", URL: server.URL, Policy: policy})

	var exhausted *resilience.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected exhausted error after timeouts, got %v", err)
	}
	if meta.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", meta.RetryCount)
	}
}

func TestDoSetsUserAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != defaultUserAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing caller header")
		}
	}))
	defer server.Close()

	c := newTestClient()
	h := http.Header{}
	h.Set("Authorization", "Bearer k")
	if _, _, err := c.Do(context.Background(), Request{Tool: "t", Service: "test", URL: server.URL, Header: h, Policy: resilience.QuickRetryPolicy()}); err != nil {
		t.Fatal(err)
	}
}

func TestProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	c := newTestClient()
	if err := c.Probe(context.Background(), healthy.URL, time.Second); err != nil {
		t.Errorf("expected healthy probe, got %v", err)
	}
	if err := c.Probe(context.Background(), broken.URL, time.Second); err == nil {
		t.Error("expected probe failure on 502")
	}
}

func TestDoUsesDefaultPolicy(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient()
	c.SetDefaultPolicy(resilience.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2})
	_, meta, err := c.Do(context.Background(), Request{Tool: "test_tool", Service: "test", URL: server.URL})

	var exhausted *resilience.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if calls.Load() != 2 || meta.RetryCount != 1 {
		t.Errorf("expected 2 calls under the default policy, got %d calls, meta %+v", calls.Load(), meta)
	}
}
