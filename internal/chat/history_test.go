package chat_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/botchat/internal/chat"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHistorySaveFillsMissingFields(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	s := chat.NewHistoryStore("", chat.WithClock(func() time.Time { return fixed }), chat.WithLogger(quietLogger()))

	saved, err := s.Save(chat.Message{Content: "hi"}, chat.KindMsg)
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000123), saved.Time)
	assert.Equal(t, chat.KindMsg, saved.Type)
	assert.True(t, strings.HasPrefix(saved.ID, "msg_1700000000123_"), saved.ID)
	assert.Equal(t, []chat.Message{saved}, s.Snapshot())
}

func TestHistorySaveKeepsSuppliedFields(t *testing.T) {
	s := chat.NewHistoryStore("", chat.WithLogger(quietLogger()))

	saved, err := s.Save(chat.Message{ID: "custom", Time: 42, Type: chat.KindLogout}, chat.KindMsg)
	require.NoError(t, err)

	assert.Equal(t, "custom", saved.ID)
	assert.Equal(t, int64(42), saved.Time)
	assert.Equal(t, chat.KindLogout, saved.Type)
}

func TestHistoryIDsUniqueWithinSameMillisecond(t *testing.T) {
	fixed := time.UnixMilli(5)
	s := chat.NewHistoryStore("", chat.WithClock(func() time.Time { return fixed }), chat.WithLogger(quietLogger()))

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		saved, err := s.Save(chat.Message{Content: "x"}, chat.KindMsg)
		require.NoError(t, err)
		require.False(t, seen[saved.ID], "duplicate id %s", saved.ID)
		seen[saved.ID] = true
	}
}

func TestHistorySaveRejectsInvalidExtra(t *testing.T) {
	s := chat.NewHistoryStore("", chat.WithLogger(quietLogger()))

	_, err := s.Save(chat.Message{
		Content: "bad",
		Extra:   map[string]json.RawMessage{"broken": json.RawMessage(`{nope`)},
	}, chat.KindMsg)

	assert.ErrorIs(t, err, chat.ErrMalformed)
	assert.Equal(t, 0, s.Len())
}

func TestHistoryIsBounded(t *testing.T) {
	const capacity = 100
	s := chat.NewHistoryStore("", chat.WithCapacity(capacity), chat.WithLogger(quietLogger()))

	total := capacity*2 + 37
	for i := 0; i < total; i++ {
		_, err := s.Save(chat.Message{Content: fmt.Sprintf("m%d", i)}, chat.KindMsg)
		require.NoError(t, err)
	}

	history := s.Snapshot()
	require.Len(t, history, capacity)
	for i, msg := range history {
		assert.Equal(t, fmt.Sprintf("m%d", total-capacity+i), msg.Content)
	}
}

func TestHistoryDefaultCapacity(t *testing.T) {
	s := chat.NewHistoryStore("", chat.WithLogger(quietLogger()))

	for i := 0; i < chat.DefaultHistoryCap+5; i++ {
		_, err := s.Save(chat.Message{Content: fmt.Sprintf("m%d", i)}, chat.KindMsg)
		require.NoError(t, err)
	}

	history := s.Snapshot()
	require.Len(t, history, chat.DefaultHistoryCap)
	assert.Equal(t, "m5", history[0].Content)
	assert.Equal(t, fmt.Sprintf("m%d", chat.DefaultHistoryCap+4), history[len(history)-1].Content)
}

func TestHistorySnapshotIsCopy(t *testing.T) {
	s := chat.NewHistoryStore("", chat.WithLogger(quietLogger()))
	_, err := s.Save(chat.Message{Content: "first draft"}, chat.KindMsg)
	require.NoError(t, err)

	snap := s.Snapshot()
	snap[0].Content = "mutated"

	assert.Equal(t, "first draft", s.Snapshot()[0].Content)
}

func TestHistoryFlushAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message.json")
	s := chat.NewHistoryStore(path, chat.WithLogger(quietLogger()))

	_, err := s.Save(chat.Message{UserID: "u1", Nickname: "Alice", Content: "hello"}, chat.KindMsg)
	require.NoError(t, err)
	_, err = s.Save(chat.Message{UserID: "u1", Nickname: "Alice"}.WithState(true), chat.KindLogin)
	require.NoError(t, err)
	_, err = s.Save(chat.Message{
		Content: "with extra",
		Extra:   map[string]json.RawMessage{"color": json.RawMessage(`"blue"`)},
	}, chat.KindMsg)
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	reloaded := chat.NewHistoryStore(path, chat.WithLogger(quietLogger()))
	reloaded.Load()

	assert.Equal(t, s.Snapshot(), reloaded.Snapshot())
}

func TestHistoryLoadMissingFile(t *testing.T) {
	s := chat.NewHistoryStore(filepath.Join(t.TempDir(), "absent.json"), chat.WithLogger(quietLogger()))
	s.Load()
	assert.Empty(t, s.Snapshot())
}

func TestHistoryLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"msg_1",`), 0o644))

	s := chat.NewHistoryStore(path, chat.WithLogger(quietLogger()))
	s.Load()
	assert.Empty(t, s.Snapshot())
}

func TestHistoryLoadTrimsToCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a"},{"id":"b"},{"id":"c"}]`), 0o644))

	s := chat.NewHistoryStore(path, chat.WithCapacity(2), chat.WithLogger(quietLogger()))
	s.Load()

	history := s.Snapshot()
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].ID)
	assert.Equal(t, "c", history[1].ID)
}

func TestHistoryFlushWriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	s := chat.NewHistoryStore(filepath.Join(blocker, "message.json"), chat.WithLogger(quietLogger()))
	_, err := s.Save(chat.Message{Content: "x"}, chat.KindMsg)
	require.NoError(t, err)

	assert.Error(t, s.Flush())
}

func TestHistoryPersistsEmptyContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message.json")
	s := chat.NewHistoryStore(path, chat.WithLogger(quietLogger()))

	frame, err := chat.ParseFrame([]byte(`{"type":"msg","userId":"u1","nickname":"Alice","content":""}`))
	require.NoError(t, err)
	saved, err := s.Save(frame, chat.KindMsg)
	require.NoError(t, err)
	assert.True(t, saved.HasContent())
	require.NoError(t, s.Flush())

	reloaded := chat.NewHistoryStore(path, chat.WithLogger(quietLogger()))
	reloaded.Load()
	history := reloaded.Snapshot()
	require.Len(t, history, 1)
	assert.True(t, history[0].HasContent())

	out, err := json.Marshal(history[0])
	require.NoError(t, err)
	assert.Contains(t, string(out), `"content":""`)
}
