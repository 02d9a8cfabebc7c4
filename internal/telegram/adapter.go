// Package telegram bridges Telegram chats to the orchestrator gateway.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/metatron/internal/gateway"
	"github.com/user/metatron/internal/stream"
	"github.com/user/metatron/internal/types"
)

const (
	maxTelegramMessage = 4096
	// maxHistory is the number of prior turns replayed to the orchestrator.
	maxHistory = 20
)

// sender is the part of the bot API the adapter uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// conversation is the per-chat state the adapter keeps, since Telegram
// clients do not send their history.
type conversation struct {
	workspace string
	history   []types.HistoryMessage
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	send    sender
	gateway *gateway.Gateway
	logger  *slog.Logger

	mu    sync.Mutex
	convs map[string]*conversation
}

// New creates a Telegram adapter.
func New(token string, gw *gateway.Gateway, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, gw, logger)
	a.bot = bot
	return a, nil
}

func newAdapter(s sender, gw *gateway.Gateway, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		send:    s,
		gateway: gw,
		logger:  logger.With("transport", "telegram"),
		convs:   make(map[string]*conversation),
	}
}

// Start long-polls for updates until ctx is cancelled. Each message is
// handled on its own goroutine; the gateway serialises messages per user.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer wg.Done()
				a.handleMessage(ctx, msg)
			}(update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}
	a.ask(ctx, msg, msg.Text, false)
}

// ask runs text through the gateway and replies with the answer and any
// media the session produced.
func (a *Adapter) ask(ctx context.Context, msg *tgbotapi.Message, text string, deep bool) {
	chatID := msg.Chat.ID
	key := conversationKey(msg.From.ID, chatID)
	workspace, history := a.snapshot(key)

	req := &types.ChatRequest{
		Message:        text,
		Workspace:      workspace,
		MessageHistory: history,
		UserID:         strconv.FormatInt(msg.From.ID, 10),
		Source:         "telegram",
	}
	if deep {
		req.Context = map[string]any{"deep_research": true}
	}

	sink := &chatSink{adapter: a, chatID: chatID}
	resp, err := a.gateway.Do(ctx, req, sink)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.logger.Error("handle message failed", "chat_id", chatID, "error", err)
		a.sendText(chatID, "Sorry, I encountered an error processing your message.")
		return
	}

	a.remember(key, text, resp.Response)
	a.sendText(chatID, resp.Response)
	for _, url := range sink.media {
		a.sendPhoto(chatID, url)
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := conversationKey(msg.From.ID, chatID)

	switch msg.Command() {
	case "start":
		a.sendText(chatID, "Hello! I'm Metatron, your research assistant. Send me a message to get started.\n\n"+
			"/research <question> runs a deep research pass.\n/workspace <name> switches tool focus.\n/new clears our conversation.")

	case "new":
		a.mu.Lock()
		delete(a.convs, key)
		a.mu.Unlock()
		a.sendText(chatID, "Starting a new conversation.")

	case "research":
		query := strings.TrimSpace(msg.CommandArguments())
		if query == "" {
			a.sendText(chatID, "Usage: /research <question>")
			return
		}
		a.ask(ctx, msg, query, true)

	case "workspace":
		name := strings.TrimSpace(msg.CommandArguments())
		if name == "" {
			name = types.DefaultWorkspace
		}
		a.mu.Lock()
		a.conv(key).workspace = name
		a.mu.Unlock()
		a.sendText(chatID, "Workspace set to "+name+".")

	case "status":
		workspace, history := a.snapshot(key)
		if workspace == "" {
			workspace = types.DefaultWorkspace
		}
		a.sendText(chatID, fmt.Sprintf("Workspace: %s\nRemembered turns: %d", workspace, len(history)))

	default:
		a.sendText(chatID, "Unknown command. Available: /start, /new, /research, /workspace, /status")
	}
}

// conv returns the conversation for key, creating it. Callers hold a.mu.
func (a *Adapter) conv(key string) *conversation {
	c, ok := a.convs[key]
	if !ok {
		c = &conversation{}
		a.convs[key] = c
	}
	return c
}

func (a *Adapter) snapshot(key string) (string, []types.HistoryMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.convs[key]
	if !ok {
		return "", nil
	}
	return c.workspace, append([]types.HistoryMessage(nil), c.history...)
}

func (a *Adapter) remember(key, question, answer string) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.conv(key)
	c.history = append(c.history,
		types.HistoryMessage{Role: "user", Content: question, Timestamp: &now},
		types.HistoryMessage{Role: "assistant", Content: answer, Timestamp: &now},
	)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
}

func (a *Adapter) sendText(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.send.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.send.Send(msg); err != nil {
				a.logger.Warn("send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

func (a *Adapter) sendPhoto(chatID int64, url string) {
	if _, err := a.send.Send(tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))); err != nil {
		a.logger.Debug("send photo failed", "chat_id", chatID, "url", url, "error", err)
	}
}

// chatSink turns session progress into chat actions and collects media.
type chatSink struct {
	adapter *Adapter
	chatID  int64
	media   []string
}

func (s *chatSink) Send(_ context.Context, c stream.Chunk) error {
	switch c.Type {
	case stream.TypeStatus, stream.TypeTool:
		if _, err := s.adapter.send.Send(tgbotapi.NewChatAction(s.chatID, tgbotapi.ChatTyping)); err != nil {
			s.adapter.logger.Debug("send chat action failed", "chat_id", s.chatID, "error", err)
		}
	case stream.TypeMedia:
		if c.Content != "" {
			s.media = append(s.media, c.Content)
		}
	}
	return nil
}

// splitMessage cuts text into Telegram-sized parts, preferring line breaks
// and never splitting a rune.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > maxTelegramMessage/2 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func conversationKey(userID, chatID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(chatID, 10)
}
