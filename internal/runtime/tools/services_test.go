package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/user/metatron/internal/types"
)

type fakeServices struct {
	searchFn   func(userID, query string, limit int) ([]string, error)
	generateFn func(kind, prompt string) (string, error)
}

func (f *fakeServices) Search(_ context.Context, userID, query string, limit int) ([]string, error) {
	return f.searchFn(userID, query, limit)
}

func (f *fakeServices) Generate(_ context.Context, _ string, kind, prompt string, _ map[string]any) (string, error) {
	return f.generateFn(kind, prompt)
}

func TestServiceToolsNotConfigured(t *testing.T) {
	deps := &types.Deps{}
	cases := []struct {
		tool Tool
		args map[string]any
	}{
		{NewSearchMemory(), map[string]any{"query": "q"}},
		{NewCreativeStudio(), map[string]any{"task_type": "image", "description": "a cat"}},
		{NewSocialMedia(), map[string]any{"action": "post", "platform": "Twitter"}},
		{NewUnderstandMedia(), map[string]any{"media_path": "https://x/a.png", "media_type": "image"}},
		{NewProcessDocument(), map[string]any{"file_path": "https://x/report.pdf"}},
	}
	for _, c := range cases {
		t.Run(c.tool.Name(), func(t *testing.T) {
			out, err := c.tool.Execute(context.Background(), deps, mustArgs(t, c.args))
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out, "not configured") {
				t.Errorf("expected not configured note, got %q", out)
			}
		})
	}
}

func TestServiceToolsValidateChoices(t *testing.T) {
	deps := &types.Deps{}
	cases := []struct {
		tool Tool
		args map[string]any
		want string
	}{
		{NewCreativeStudio(), map[string]any{"task_type": "sculpture", "description": "x"}, "Unsupported creative task type"},
		{NewSocialMedia(), map[string]any{"action": "delete", "platform": "twitter"}, "Unsupported action"},
		{NewSocialMedia(), map[string]any{"action": "post", "platform": "myspace"}, "Unsupported platform"},
		{NewUnderstandMedia(), map[string]any{"media_path": "x", "media_type": "hologram"}, "Unsupported media type"},
		{NewProcessDocument(), map[string]any{"file_path": "notes.txt"}, "Unsupported file type: txt"},
	}
	for _, c := range cases {
		out, err := c.tool.Execute(context.Background(), deps, mustArgs(t, c.args))
		if err != nil || !strings.Contains(out, c.want) {
			t.Errorf("%s: expected %q, got %q, %v", c.tool.Name(), c.want, out, err)
		}
	}
}

func TestSearchMemoryUsesService(t *testing.T) {
	svc := &fakeServices{searchFn: func(userID, query string, limit int) ([]string, error) {
		if userID != "u1" || query != "coffee" || limit != 5 {
			t.Errorf("unexpected search %s %s %d", userID, query, limit)
		}
		return []string{"likes espresso", "no sugar"}, nil
	}}
	deps := &types.Deps{UserID: "u1", Services: types.Services{Memory: svc}}
	out, err := NewSearchMemory().Execute(context.Background(), deps, mustArgs(t, map[string]string{"query": "coffee"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "- likes espresso\n- no sugar") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCreativeStudioPropagatesServiceError(t *testing.T) {
	boom := errors.New("boom")
	svc := &fakeServices{generateFn: func(string, string) (string, error) { return "", boom }}
	deps := &types.Deps{Services: types.Services{Creative: svc}}
	_, err := NewCreativeStudio().Execute(context.Background(), deps, mustArgs(t, map[string]string{"task_type": "image", "description": "x"}))
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped service error, got %v", err)
	}
}
