package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/metatron/internal/gateway"
	"github.com/user/metatron/internal/stream"
	"github.com/user/metatron/internal/types"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeSender) photos() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.sent {
		if _, ok := c.(tgbotapi.PhotoConfig); ok {
			n++
		}
	}
	return n
}

type processorFunc func(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error)

func (f processorFunc) Run(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error) {
	return f(ctx, req, sink)
}

func setupAdapter(t *testing.T, proc processorFunc) (*Adapter, *fakeSender) {
	t.Helper()
	gw := gateway.New(proc, 1, nil)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	fs := &fakeSender{}
	return newAdapter(fs, gw, nil), fs
}

func textMessage(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		Text: text,
		From: &tgbotapi.User{ID: 12345},
		Chat: &tgbotapi.Chat{ID: 67890},
	}
	if strings.HasPrefix(text, "/") {
		end := strings.IndexByte(text, ' ')
		if end < 0 {
			end = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return msg
}

func TestHandleMessage(t *testing.T) {
	var seen []*types.ChatRequest
	adapter, fs := setupAdapter(t, func(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error) {
		seen = append(seen, req)
		asm := stream.NewAssembler(sink)
		asm.Status(ctx, "initializing", 10)
		asm.Media(ctx, "https://i.ytimg.com/vi/abc/hqdefault.jpg", nil)
		return &types.ChatResponse{Response: "answer to " + req.Message}, nil
	})
	ctx := context.Background()

	adapter.handleMessage(ctx, textMessage("first"))
	adapter.handleMessage(ctx, textMessage("second"))

	texts := fs.texts()
	if len(texts) != 2 || texts[1] != "answer to second" {
		t.Fatalf("unexpected replies %v", texts)
	}
	if fs.photos() != 2 {
		t.Errorf("expected media forwarded as photos, got %d", fs.photos())
	}
	if seen[0].Source != "telegram" || seen[0].UserID != "12345" {
		t.Errorf("unexpected request identity %+v", seen[0])
	}
	if len(seen[1].MessageHistory) != 2 || seen[1].MessageHistory[1].Content != "answer to first" {
		t.Errorf("expected previous turn replayed, got %+v", seen[1].MessageHistory)
	}
}

func TestCommands(t *testing.T) {
	var last *types.ChatRequest
	adapter, fs := setupAdapter(t, func(ctx context.Context, req *types.ChatRequest, sink stream.Sink) (*types.ChatResponse, error) {
		last = req
		return &types.ChatResponse{Response: "ok"}, nil
	})
	ctx := context.Background()

	adapter.handleMessage(ctx, textMessage("/workspace research"))
	adapter.handleMessage(ctx, textMessage("/research quantum batteries"))
	if last == nil || last.Message != "quantum batteries" || !last.DeepResearch() {
		t.Fatalf("expected deep research request, got %+v", last)
	}
	if last.Workspace != "research" {
		t.Errorf("expected workspace research, got %q", last.Workspace)
	}

	adapter.handleMessage(ctx, textMessage("/new"))
	adapter.handleMessage(ctx, textMessage("/status"))
	texts := fs.texts()
	status := texts[len(texts)-1]
	if !strings.Contains(status, "Workspace: default") || !strings.Contains(status, "Remembered turns: 0") {
		t.Errorf("expected reset status, got %q", status)
	}

	adapter.handleMessage(ctx, textMessage("/bogus"))
	texts = fs.texts()
	if !strings.HasPrefix(texts[len(texts)-1], "Unknown command") {
		t.Errorf("expected unknown command reply, got %q", texts[len(texts)-1])
	}
}

func TestHistoryBounded(t *testing.T) {
	adapter, _ := setupAdapter(t, nil)
	for i := 0; i < maxHistory; i++ {
		adapter.remember("k", "q", "a")
	}
	_, history := adapter.snapshot("k")
	if len(history) != maxHistory {
		t.Errorf("expected %d turns kept, got %d", maxHistory, len(history))
	}
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestSplitMessageKeepsRunes(t *testing.T) {
	long := strings.Repeat("é", 3000)
	for i, part := range splitMessage(long) {
		if !utf8.ValidString(part) {
			t.Errorf("part %d is not valid UTF-8", i)
		}
	}
}

func TestSplitMessagePrefersNewline(t *testing.T) {
	text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)
	parts := splitMessage(text)
	if len(parts) != 2 || !strings.HasSuffix(parts[0], "\n") {
		t.Errorf("expected split at newline, got %d parts", len(parts))
	}
}

func TestConversationKey(t *testing.T) {
	if key := conversationKey(12345, 67890); key != "12345:67890" {
		t.Errorf("expected '12345:67890', got %q", key)
	}
}
