package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-success answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = strings.ToValidUTF8(body[:200], "")
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, body)
}

// RateLimitError reports that the provider refused the request for quota
// reasons. Sessions treat it as a graceful stop, not a failure.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return "model rate limited: " + e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryableModelError reports a transient provider fault, such as an
// overloaded backend, that may succeed on a later call.
type RetryableModelError struct {
	Err error
}

func (e *RetryableModelError) Error() string { return "model temporarily unavailable: " + e.Err.Error() }
func (e *RetryableModelError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is, or wraps, a provider quota refusal.
// Untyped errors carrying the provider's "429" or RESOURCE_EXHAUSTED marker
// are recognised too.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

// IsRetryable reports whether err is a transient provider fault.
func IsRetryable(err error) bool {
	var rm *RetryableModelError
	return errors.As(err, &rm)
}

// ClassifyStatus wraps an API error into the typed error matching its
// status code.
func ClassifyStatus(provider string, status int, body string) error {
	apiErr := &APIError{Provider: provider, StatusCode: status, Body: body}
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Err: apiErr}
	case status >= 500:
		return &RetryableModelError{Err: apiErr}
	default:
		return apiErr
	}
}
