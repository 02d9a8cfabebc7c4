package llm

import (
	"context"
	"time"
)

// Provider is a chat model backend. Complete is the call sessions make;
// Stream yields the same answer in pieces, ending with tool calls if any.
type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
	Stream(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error)
}

// DefaultTimeout bounds one model call when Config.Timeout is unset.
const DefaultTimeout = 60 * time.Second

// Config holds the settings shared by every provider. Zero MaxTokens and
// Temperature leave the provider's defaults in place.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// CallTimeout returns the per-call timeout.
func (c *Config) CallTimeout() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
