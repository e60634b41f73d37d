package bot_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/botchat/internal/bot"
	"github.com/Tyrowin/botchat/internal/chat"
	"github.com/Tyrowin/botchat/internal/llm"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   [][]llm.Message
	reply   string
	err     error
	release chan struct{}
}

func (f *fakeClient) Generate(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.reply, Model: "fake"}, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []chat.Message
}

func (p *fakePublisher) Publish(msg chat.Message, defaultKind chat.Kind) (chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.Type == "" {
		msg.Type = defaultKind
	}
	p.messages = append(p.messages, msg)
	return msg, nil
}

func (p *fakePublisher) published() []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Message(nil), p.messages...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleHistory() []chat.Message {
	return []chat.Message{
		{Type: chat.KindLogin, UserID: "u1", Nickname: "Alice"},
		{Type: chat.KindMsg, UserID: "u1", Nickname: "Alice", Content: "hello"},
		{Type: chat.KindMsg, Content: "orphan"},
		{Type: chat.KindMsg, UserID: "u2", Nickname: "Bob", Content: "hello @ChatBot how are you"},
	}
}

func TestBuildConversation(t *testing.T) {
	conv := bot.BuildConversation("sys", sampleHistory(), 0)

	require.Len(t, conv, 3)
	assert.Equal(t, llm.Message{Role: llm.RoleSystem, Content: "sys"}, conv[0])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "[Alice] (ID: u1): hello"}, conv[1])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "[Bob] (ID: u2): hello @ChatBot how are you"}, conv[2])
}

func TestBuildConversationKeepsEmptyContent(t *testing.T) {
	empty, err := chat.ParseFrame([]byte(`{"type":"msg","userId":"u3","nickname":"Carol","content":""}`))
	require.NoError(t, err)

	conv := bot.BuildConversation("sys", append(sampleHistory(), empty), 0)

	require.Len(t, conv, 4)
	assert.Equal(t, "[Carol] (ID: u3): ", conv[3].Content)
}

func TestBuildConversationLimit(t *testing.T) {
	conv := bot.BuildConversation("sys", sampleHistory(), 1)

	require.Len(t, conv, 2)
	assert.Equal(t, llm.RoleSystem, conv[0].Role)
	assert.Equal(t, "[Bob] (ID: u2): hello @ChatBot how are you", conv[1].Content)
}

func TestAgentMentioned(t *testing.T) {
	agent := bot.New(bot.DefaultConfig(), nil, &fakePublisher{}, quietLogger())

	assert.True(t, agent.Mentioned("hello @ChatBot how are you"))
	assert.False(t, agent.Mentioned("hello chatbot"))
	assert.Equal(t, "@ChatBot", agent.Trigger())
}

func TestAgentProcessPublishesReply(t *testing.T) {
	client := &fakeClient{reply: "@Bob\nI'm fine"}
	pub := &fakePublisher{}
	agent := bot.New(bot.DefaultConfig(), client, pub, quietLogger())

	agent.Process("hello @ChatBot how are you", sampleHistory())
	agent.Wait()

	msgs := pub.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.KindMsg, msgs[0].Type)
	assert.Equal(t, "@Bob\nI'm fine", msgs[0].Content)
	assert.Equal(t, chat.Identity{UserID: "bot_001", Nickname: "ChatBot", Avatar: "🤖"}, msgs[0].Identity())
	require.Equal(t, 1, client.callCount())
}

func TestAgentProcessFailureIsSilent(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
	}{
		{name: "request error", client: &fakeClient{err: errors.New("connection refused")}},
		{name: "empty reply", client: &fakeClient{reply: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			agent := bot.New(bot.DefaultConfig(), tt.client, pub, quietLogger())

			agent.Process("@ChatBot", sampleHistory())
			agent.Wait()

			assert.Empty(t, pub.published())
			assert.Equal(t, 1, tt.client.callCount())
		})
	}
}

func TestAgentProcessWithoutClient(t *testing.T) {
	pub := &fakePublisher{}
	agent := bot.New(bot.DefaultConfig(), nil, pub, quietLogger())

	agent.Process("@ChatBot", sampleHistory())
	agent.Wait()

	assert.Empty(t, pub.published())
}

func TestAgentProcessDoesNotBlock(t *testing.T) {
	client := &fakeClient{reply: "done", release: make(chan struct{})}
	pub := &fakePublisher{}
	agent := bot.New(bot.DefaultConfig(), client, pub, quietLogger())

	returned := make(chan struct{})
	go func() {
		agent.Process("@ChatBot", sampleHistory())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Process blocked on the completion request")
	}
	assert.Empty(t, pub.published())

	close(client.release)
	agent.Wait()
	assert.Len(t, pub.published(), 1)
}

func TestAgentTimeout(t *testing.T) {
	cfg := bot.DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	client := &fakeClient{reply: "late", release: make(chan struct{})}
	pub := &fakePublisher{}
	agent := bot.New(cfg, client, pub, quietLogger())

	agent.Process("@ChatBot", sampleHistory())
	agent.Wait()

	assert.Empty(t, pub.published())
}

func TestAgentWelcome(t *testing.T) {
	pub := &fakePublisher{}
	agent := bot.New(bot.DefaultConfig(), nil, pub, quietLogger())

	agent.Welcome("Alice")
	agent.Wait()

	msgs := pub.published()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "@Alice ")
	assert.Contains(t, msgs[0].Content, "@ChatBot")
	assert.Equal(t, "bot_001", msgs[0].UserID)
}
