package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sony/gobreaker"
)

// Category is the coarse failure class used for retry decisions and for the
// message shown to end users.
type Category string

const (
	CategoryConnection Category = "connection_error"
	CategoryValidation Category = "validation_error"
	CategoryPermission Category = "permission_error"
	CategoryRateLimit  Category = "rate_limit_error"
	CategoryAuth       Category = "auth_error"
	CategoryUnknown    Category = "unknown_error"
)

// Sentinels callers wrap to classify their errors without relying on
// message text.
var (
	ErrConnection  = errors.New("connection failure")
	ErrValidation  = errors.New("validation failure")
	ErrPermission  = errors.New("permission denied")
	ErrAuth        = errors.New("authentication failure")
	ErrRateLimited = errors.New("rate limited")
)

type categoryRule struct {
	Retryable   bool
	UserMessage string
}

// categories is the retry and user-message table. Rate limits are retryable
// for a single tool; the session treats a rate-limited model call separately.
var categories = map[Category]categoryRule{
	CategoryConnection: {true, "I'm having trouble connecting to external services. Please try again in a moment."},
	CategoryValidation: {false, "There was an issue with the request format. Please check your input and try again."},
	CategoryPermission: {false, "I don't have permission to access the requested resource."},
	CategoryRateLimit:  {true, "I'm currently experiencing high demand. Please wait a moment and try again."},
	CategoryAuth:       {false, "There's an authentication issue with external services. Please contact support."},
	CategoryUnknown:    {true, "I encountered an unexpected issue. Please try again or contact support if the problem persists."},
}

var statusCategories = map[int]Category{
	400: CategoryValidation,
	401: CategoryAuth,
	403: CategoryPermission,
	404: CategoryValidation,
	429: CategoryRateLimit,
	502: CategoryConnection,
	503: CategoryConnection,
	504: CategoryConnection,
}

var sentinelCategories = []struct {
	err      error
	category Category
}{
	{ErrRateLimited, CategoryRateLimit},
	{ErrAuth, CategoryAuth},
	{ErrPermission, CategoryPermission},
	{ErrValidation, CategoryValidation},
	{ErrConnection, CategoryConnection},
	{context.DeadlineExceeded, CategoryConnection},
	{gobreaker.ErrOpenState, CategoryConnection},
	{gobreaker.ErrTooManyRequests, CategoryConnection},
}

// keywordCategories is consulted in order against the lowercased message
// when nothing structured identifies the error.
var keywordCategories = []struct {
	keywords []string
	category Category
}{
	{[]string{"429", "resource_exhausted", "rate limit", "quota"}, CategoryRateLimit},
	{[]string{"unauthorized", "authentication", "api key"}, CategoryAuth},
	{[]string{"forbidden", "permission"}, CategoryPermission},
	{[]string{"invalid", "validation"}, CategoryValidation},
	{[]string{"timeout", "connection", "network", "temporary"}, CategoryConnection},
}

// StatusError is returned by HTTP clients for non-2xx responses.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = strings.ToValidUTF8(body[:200], "")
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, body)
}

// Category maps the status code through the status table. Unlisted 5xx
// codes are unknown (retryable); unlisted 4xx codes are validation errors.
func (e *StatusError) Category() Category {
	if c, ok := statusCategories[e.StatusCode]; ok {
		return c
	}
	if e.StatusCode >= 500 {
		return CategoryUnknown
	}
	return CategoryValidation
}

// PermanentError marks an error as non-retryable regardless of category.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that the executor never retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Classify returns the failure category of err, or "" for nil.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Category()
	}
	for _, s := range sentinelCategories {
		if errors.Is(err, s.err) {
			return s.category
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return CategoryConnection
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range keywordCategories {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

// IsRetryable reports whether another attempt may succeed. Unclassified
// errors are retryable; cancellation of the caller's context is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return categories[Classify(err)].Retryable
}

// UserMessage returns the end-user text for err. Raw error text is never
// included.
func UserMessage(err error) string {
	c := Classify(err)
	if c == "" {
		c = CategoryUnknown
	}
	return categories[c].UserMessage
}

// UserMessageFor returns the end-user text for a category.
func UserMessageFor(c Category) string {
	if r, ok := categories[c]; ok {
		return r.UserMessage
	}
	return categories[CategoryUnknown].UserMessage
}

// IsSessionFatal reports whether a tool failure must abort the whole
// session rather than degrade to an inline note.
func IsSessionFatal(err error) bool {
	switch Classify(err) {
	case CategoryAuth, CategoryPermission:
		return true
	}
	return false
}
