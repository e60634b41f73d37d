package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryCap is the number of messages kept in memory and on disk.
const DefaultHistoryCap = 10000

// HistoryStore is the bounded, append-only chat log. The oldest message is
// evicted once the store is full. It is persisted as a single JSON array.
type HistoryStore struct {
	mu   sync.Mutex
	buf  []Message
	head int

	capacity int
	path     string
	now      func() time.Time
	logger   *slog.Logger
}

// HistoryOption customizes a HistoryStore.
type HistoryOption func(*HistoryStore)

// WithCapacity overrides DefaultHistoryCap. Non-positive values are ignored.
func WithCapacity(n int) HistoryOption {
	return func(s *HistoryStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock replaces time.Now for timestamping saved messages.
func WithClock(now func() time.Time) HistoryOption {
	return func(s *HistoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for load and flush reports.
func WithLogger(logger *slog.Logger) HistoryOption {
	return func(s *HistoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHistoryStore creates an empty store persisted at path. An empty path
// keeps the history in memory only.
func NewHistoryStore(path string, opts ...HistoryOption) *HistoryStore {
	s := &HistoryStore{
		capacity: DefaultHistoryCap,
		path:     path,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "history"))
	return s
}

// Path returns the backing file path.
func (s *HistoryStore) Path() string {
	return s.path
}

// Save completes msg with a timestamp, a kind and an id where they are
// missing, appends it and returns the stored record. Only the returned value
// should be broadcast.
func (s *HistoryStore) Save(msg Message, defaultKind Kind) (Message, error) {
	msg = msg.Clone()
	if msg.Time == 0 {
		msg.Time = s.now().UnixMilli()
	}
	if msg.Type == "" {
		msg.Type = defaultKind
	}
	if msg.ID == "" {
		msg.ID = newMessageID(msg.Time)
	}
	if _, err := json.Marshal(msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	s.mu.Lock()
	s.push(msg)
	s.mu.Unlock()

	return msg.Clone(), nil
}

// Snapshot returns the stored messages, oldest first. Extra payloads are
// shared with the store and must not be modified.
func (s *HistoryStore) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.buf))
	n := copy(out, s.buf[s.head:])
	copy(out[n:], s.buf[:s.head])
	return out
}

// Len returns the number of stored messages.
func (s *HistoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Load replaces the in-memory history with the contents of the backing file.
// A missing or unreadable file leaves the history empty.
func (s *HistoryStore) Load() {
	if s.path == "" {
		return
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no history file found", slog.String("path", s.path))
		return
	}
	if err != nil {
		s.logger.Error("read history failed", slog.String("path", s.path), slog.Any("error", err))
		return
	}

	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		s.logger.Error("parse history failed", slog.String("path", s.path), slog.Any("error", err))
		return
	}

	s.mu.Lock()
	s.buf = nil
	s.head = 0
	for _, msg := range messages {
		s.push(msg)
	}
	count := len(s.buf)
	s.mu.Unlock()

	s.logger.Info("history loaded", slog.String("path", s.path), slog.Int("messages", count))
}

// Flush overwrites the backing file with the current history. The file is
// replaced atomically so a failed write keeps the previous contents.
func (s *HistoryStore) Flush() error {
	if s.path == "" {
		return nil
	}

	messages := s.Snapshot()
	data, err := json.MarshalIndent(messages, "", "    ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write history: %w", err)
	}

	s.logger.Info("history saved", slog.String("path", s.path), slog.Int("messages", len(messages)))
	return nil
}

// push appends msg, overwriting the oldest entry once full. Callers hold mu.
func (s *HistoryStore) push(msg Message) {
	if len(s.buf) < s.capacity {
		s.buf = append(s.buf, msg)
		return
	}
	s.buf[s.head] = msg
	s.head = (s.head + 1) % s.capacity
}

func newMessageID(ts int64) string {
	return "msg_" + strconv.FormatInt(ts, 10) + "_" + uuid.NewString()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
