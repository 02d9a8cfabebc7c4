// Package upstream is the shared HTTP client for external services. Every
// call is rate limited per service, guarded by a per-service circuit breaker
// and retried under the caller's policy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/metatron/internal/resilience"
)

const maxResponseBytes = 10 << 20

const defaultUserAgent = "Metatron-AI-Research/1.0"

// Request describes one logical outbound call.
type Request struct {
	// Tool names the caller in logs, metrics and ExecutionMetadata.
	Tool string
	// Service is the limiter key and breaker name, e.g. "jina".
	Service string
	Method  string
	URL     string
	Header  http.Header
	// Body is resent unchanged on every attempt.
	Body []byte
	// Policy defaults to the client's policy when zero.
	Policy resilience.RetryPolicy
}

// Client performs Requests. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	exec      *resilience.Executor
	limiter   *resilience.SlidingWindow
	breakers  *resilience.BreakerSet
	policy    resilience.RetryPolicy
	userAgent string
}

// New creates a Client. limiter and breakers may be nil to disable them.
func New(exec *resilience.Executor, limiter *resilience.SlidingWindow, breakers *resilience.BreakerSet) *Client {
	return &Client{
		// Per-attempt deadlines come from the retry policy.
		http:      &http.Client{},
		exec:      exec,
		limiter:   limiter,
		breakers:  breakers,
		policy:    resilience.DefaultRetryPolicy(),
		userAgent: defaultUserAgent,
	}
}

// SetDefaultPolicy sets the policy for requests that carry none.
func (c *Client) SetDefaultPolicy(p resilience.RetryPolicy) { c.policy = p }

// SetHTTPClient replaces the underlying transport, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) { c.http = hc }

// Do runs req and returns the response body of the first successful
// attempt. Non-2xx responses become *resilience.StatusError.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, resilience.ExecutionMetadata, error) {
	policy := req.Policy
	if policy == (resilience.RetryPolicy{}) {
		policy = c.policy
	}
	timeout := policy.Timeout
	// The attempt deadline starts after the limiter admits the call.
	policy.Timeout = 0

	return resilience.Execute(ctx, c.exec, req.Tool, policy, func(ctx context.Context) ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx, req.Service); err != nil {
				return nil, err
			}
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if c.breakers == nil {
			return c.roundTrip(ctx, req)
		}
		out, err := c.breakers.Get(req.Service).Execute(func() (interface{}, error) {
			return c.roundTrip(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return out.([]byte), nil
	})
}

// DoJSON runs req and decodes the JSON response into out.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) (resilience.ExecutionMetadata, error) {
	body, meta, err := c.Do(ctx, req)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return meta, fmt.Errorf("parse %s response: %w", req.Service, err)
	}
	return meta, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", req.Service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &resilience.StatusError{Service: req.Service, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// Probe issues a single unretried GET and reports whether the service
// answered with a non-5xx status within timeout. It bypasses the limiter and
// breaker so health checks never consume request budget.
func (c *Client) Probe(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &resilience.StatusError{Service: url, StatusCode: resp.StatusCode}
	}
	return nil
}
