// Package tools implements the tools the orchestrator can dispatch to.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/user/metatron/internal/resilience"
	"github.com/user/metatron/internal/runtime"
	"github.com/user/metatron/internal/types"
	"github.com/user/metatron/internal/upstream"
)

// Tool is a dispatchable tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, deps *types.Deps, args json.RawMessage) (string, error)
}

// Register adds every tool to b in order.
func Register(b *runtime.Builder, tools ...Tool) error {
	for _, t := range tools {
		if err := b.Register(t.Name(), t.Description(), t.Parameters(), t.Execute); err != nil {
			return err
		}
	}
	return nil
}

// Config selects credentials and endpoints for the HTTP-backed tools.
type Config struct {
	JinaAPIKey  string
	BraveAPIKey string
}

// Default returns the full tool set in the order the model sees it.
func Default(client *upstream.Client, cfg Config) []Tool {
	jina := NewJina(client, cfg.JinaAPIKey)
	var brave *BraveSearch
	if cfg.BraveAPIKey != "" {
		brave = NewBraveSearch(client, cfg.BraveAPIKey)
	}
	set := []Tool{
		NewSearchMemory(),
		NewCreativeStudio(),
		NewSocialMedia(),
		NewDeepResearch(jina),
		NewBrowseWeb(client, jina),
		NewWikipedia(client),
		NewReddit(client),
		NewNews(client),
		NewProcessDocument(),
		NewYouTube(client),
		NewUnderstandMedia(),
		NewDetectContentIntent(),
		NewNanoSearch(jina, brave),
	}
	if brave != nil {
		set = append(set, NewBraveTool(brave))
	}
	return set
}

// decodeArgs unmarshals tool arguments. Malformed arguments are a
// validation failure and are never retried.
func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return resilience.Permanent(fmt.Errorf("%w: parse args: %v", resilience.ErrValidation, err))
	}
	return nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return resilience.Permanent(fmt.Errorf("%w: %s is required", resilience.ErrValidation, name))
	}
	return nil
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return cut(s, n) + "..."
}

// cut shortens s to at most n bytes without splitting a rune.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
