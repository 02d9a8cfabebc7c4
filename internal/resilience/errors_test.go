package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sony/gobreaker"
)

func TestClassifyStatusTable(t *testing.T) {
	tests := []struct {
		code      int
		category  Category
		retryable bool
	}{
		{429, CategoryRateLimit, true},
		{502, CategoryConnection, true},
		{503, CategoryConnection, true},
		{504, CategoryConnection, true},
		{500, CategoryUnknown, true},
		{400, CategoryValidation, false},
		{401, CategoryAuth, false},
		{403, CategoryPermission, false},
		{404, CategoryValidation, false},
		{418, CategoryValidation, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := fmt.Errorf("call upstream: %w", &StatusError{Service: "Jina", StatusCode: tt.code, Body: "x"})
			if got := Classify(err); got != tt.category {
				t.Errorf("Classify = %s, want %s", got, tt.category)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestClassifySentinelsAndKeywords(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"sentinel auth", fmt.Errorf("jina: %w", ErrAuth), CategoryAuth},
		{"sentinel validation", fmt.Errorf("args: %w", ErrValidation), CategoryValidation},
		{"deadline", context.DeadlineExceeded, CategoryConnection},
		{"breaker open", gobreaker.ErrOpenState, CategoryConnection},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, CategoryConnection},
		{"resource exhausted", errors.New("Error 429: RESOURCE_EXHAUSTED"), CategoryRateLimit},
		{"api key", errors.New("invalid API key supplied"), CategoryAuth},
		{"forbidden", errors.New("forbidden"), CategoryPermission},
		{"invalid", errors.New("invalid request body"), CategoryValidation},
		{"network", errors.New("network unreachable"), CategoryConnection},
		{"unknown", errors.New("something odd"), CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
	if Classify(nil) != "" {
		t.Error("nil error should have no category")
	}
}

func TestIsRetryableDefaults(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error should not be retryable")
	}
	if !IsRetryable(errors.New("something odd")) {
		t.Error("unclassified errors default to retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Error("caller cancellation is not retryable")
	}
	if IsRetryable(Permanent(errors.New("timeout"))) {
		t.Error("permanent wrapper must win over keywords")
	}
}

func TestUserMessageHidesRawError(t *testing.T) {
	err := errors.New("dial tcp 10.0.0.1:443: connection refused (secret=abc)")
	msg := UserMessage(err)
	if strings.Contains(msg, "secret") || strings.Contains(msg, "10.0.0.1") {
		t.Errorf("user message leaked raw error: %q", msg)
	}
	if msg != UserMessageFor(CategoryConnection) {
		t.Errorf("expected connection message, got %q", msg)
	}
	if UserMessageFor("nonsense") != UserMessageFor(CategoryUnknown) {
		t.Error("unknown categories fall back to the generic message")
	}
}

func TestIsSessionFatal(t *testing.T) {
	if !IsSessionFatal(&StatusError{StatusCode: 401}) {
		t.Error("auth failures abort the session")
	}
	if IsSessionFatal(&ExhaustedError{Name: "x", Attempts: 3, Err: &StatusError{StatusCode: 503}}) {
		t.Error("exhausted transient failures degrade inline")
	}
	if IsSessionFatal(&StatusError{StatusCode: 404}) {
		t.Error("validation failures degrade inline")
	}
}

func TestStatusErrorBodyKeepsRunes(t *testing.T) {
	err := &StatusError{Service: "jina", StatusCode: 502, Body: "x" + strings.Repeat("ü", 150)}
	if msg := err.Error(); !utf8.ValidString(msg) {
		t.Errorf("error message split a rune: %q", msg)
	}
}
