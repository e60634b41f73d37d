// Package bot implements the ChatBot participant. It answers mentions with a
// completion from an external language model and posts its replies through
// the same publish path as every other chat message.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Tyrowin/botchat/internal/chat"
	"github.com/Tyrowin/botchat/internal/llm"
)

const defaultSystemPrompt = "You are a helpful chatbot in a multi-user chat room. " +
	"User messages are formatted as: [nickname] (ID: <id>): <message content>. " +
	"When you reply, send only your message content without your own nickname/ID prefix. " +
	"Be helpful, friendly and concise. " +
	"Reply only to the last user message. " +
	"Address the user with @nickname on the first line of your reply, then write the message content starting on the second line."

// Publisher saves a message to the history and broadcasts the stored record.
type Publisher interface {
	Publish(msg chat.Message, defaultKind chat.Kind) (chat.Message, error)
}

// Config describes the bot identity and request limits.
type Config struct {
	UserID   string
	Nickname string
	Avatar   string

	// SystemPrompt defaults to a chat-room assistant instruction.
	SystemPrompt string
	// Timeout bounds a single completion request, including the wait for a
	// concurrency slot.
	Timeout time.Duration
	// MaxConcurrent bounds in-flight completion requests.
	MaxConcurrent int64
	// ContextLimit keeps only the newest records in the conversation.
	// Zero sends the whole history.
	ContextLimit int
}

// DefaultConfig returns the stock ChatBot identity.
func DefaultConfig() Config {
	return Config{
		UserID:        "bot_001",
		Nickname:      "ChatBot",
		Avatar:        "🤖",
		Timeout:       60 * time.Second,
		MaxConcurrent: 4,
	}
}

// Agent is the ChatBot participant.
type Agent struct {
	cfg       Config
	client    llm.Client
	publisher Publisher
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// New creates an Agent. A nil client disables completions; welcome messages
// are still posted.
func New(cfg Config, client llm.Client, publisher Publisher, logger *slog.Logger) *Agent {
	def := DefaultConfig()
	if cfg.UserID == "" {
		cfg.UserID = def.UserID
	}
	if cfg.Nickname == "" {
		cfg.Nickname = def.Nickname
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:       cfg,
		client:    client,
		publisher: publisher,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:    logger.With(slog.String("component", "bot")),
	}
}

// Identity returns the fixed identity the bot posts under.
func (a *Agent) Identity() chat.Identity {
	return chat.Identity{UserID: a.cfg.UserID, Nickname: a.cfg.Nickname, Avatar: a.cfg.Avatar}
}

// Trigger is the mention that summons the bot.
func (a *Agent) Trigger() string {
	return "@" + a.cfg.Nickname
}

// Mentioned reports whether content summons the bot.
func (a *Agent) Mentioned(content string) bool {
	return strings.Contains(content, a.Trigger())
}

// Process asks the completion service for a reply to the conversation in
// history and posts it when it arrives. It returns immediately; failures are
// logged and produce no message.
func (a *Agent) Process(trigger string, history []chat.Message) {
	if a.client == nil {
		a.logger.Warn("bot mentioned but no completion client is configured")
		return
	}

	conversation := BuildConversation(a.cfg.SystemPrompt, history, a.cfg.ContextLimit)
	a.logger.Info("bot triggered", slog.String("trigger", trigger), slog.Int("context", len(conversation)-1))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.complete(conversation)
	}()
}

func (a *Agent) complete(conversation []llm.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		a.logger.Error("bot request dropped while waiting for a slot", slog.Any("error", err))
		return
	}
	defer a.sem.Release(1)

	resp, err := a.client.Generate(ctx, conversation)
	if err != nil {
		a.logger.Error("completion request failed", slog.Any("error", err))
		return
	}
	if strings.TrimSpace(resp.Content) == "" {
		a.logger.Error("completion returned empty content", slog.String("model", resp.Model))
		return
	}

	a.logger.Debug("completion received",
		slog.String("model", resp.Model),
		slog.Int("total_tokens", resp.TotalTokens),
	)
	if err := a.BroadcastBotMessage(resp.Content); err != nil {
		a.logger.Error("post bot reply failed", slog.Any("error", err))
	}
}

// Welcome posts a greeting for a user who just logged in. It does not block.
func (a *Agent) Welcome(nickname string) {
	content := fmt.Sprintf("@%s Hello! Welcome to the chat room! I'm %s, the room's AI assistant. Mention %s to talk with me.",
		nickname, a.cfg.Nickname, a.Trigger())

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.BroadcastBotMessage(content); err != nil {
			a.logger.Error("post welcome failed", slog.Any("error", err))
		}
	}()
}

// BroadcastBotMessage saves and broadcasts content as a msg from the bot.
func (a *Agent) BroadcastBotMessage(content string) error {
	msg := chat.Message{Type: chat.KindMsg, Content: content}.WithIdentity(a.Identity())
	if _, err := a.publisher.Publish(msg, chat.KindMsg); err != nil {
		return fmt.Errorf("publish bot message: %w", err)
	}
	return nil
}

// Wait blocks until every pending reply and welcome has finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// BuildConversation turns chat history into a completion request: the system
// prompt followed by one attributed user line per record that has a sender
// and content.
func BuildConversation(systemPrompt string, history []chat.Message, limit int) []llm.Message {
	lines := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		if msg.UserID == "" || msg.Nickname == "" || !msg.HasContent() {
			continue
		}
		lines = append(lines, llm.Message{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("[%s] (ID: %s): %s", msg.Nickname, msg.UserID, msg.Content),
		})
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	out := make([]llm.Message, 0, len(lines)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	return append(out, lines...)
}
