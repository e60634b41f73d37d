// Package chat holds the domain state of the chat hub: the message model,
// the online user registry and the bounded message history.
package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// Kind is the value of a frame's "type" field.
type Kind string

// Frame and record kinds exchanged with clients.
const (
	KindLogin   Kind = "login"
	KindMsg     Kind = "msg"
	KindLogout  Kind = "logout"
	KindHistory Kind = "history"
)

// ErrMalformed reports input that cannot be decoded or re-encoded as a message.
var ErrMalformed = errors.New("malformed message")

// Identity is the display identity of one online participant.
type Identity struct {
	UserID   string
	Nickname string
	Avatar   string
}

// Message is one chat-log record. Fields the hub does not interpret are kept
// in Extra and written back verbatim.
type Message struct {
	ID       string
	Time     int64
	Type     Kind
	UserID   string
	Nickname string
	Avatar   string
	Content  string
	State    *bool
	Extra    map[string]json.RawMessage

	// emptyContent records a "content" key that was present but empty, so
	// the record is written back with it.
	emptyContent bool
}

var knownKeys = map[string]struct{}{
	"id": {}, "time": {}, "type": {}, "userId": {}, "nickname": {},
	"avatar": {}, "content": {}, "state": {},
}

// Identity returns the sender identity carried by the message.
func (m Message) Identity() Identity {
	return Identity{UserID: m.UserID, Nickname: m.Nickname, Avatar: m.Avatar}
}

// WithIdentity returns a copy of m stamped with the given sender identity.
func (m Message) WithIdentity(id Identity) Message {
	m.UserID = id.UserID
	m.Nickname = id.Nickname
	m.Avatar = id.Avatar
	return m
}

// WithState returns a copy of m carrying the login acknowledgement flag.
func (m Message) WithState(state bool) Message {
	m.State = &state
	return m
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.State != nil {
		state := *m.State
		m.State = &state
	}
	if m.Extra != nil {
		extra := make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			extra[k] = bytes.Clone(v)
		}
		m.Extra = extra
	}
	return m
}

// HasContent reports whether the message carries a content field, even an
// empty one.
func (m Message) HasContent() bool {
	return m.Content != "" || m.emptyContent
}

// MarshalJSON writes the known fields over the pass-through extras.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+len(knownKeys))
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.ID != "" {
		out["id"] = m.ID
	}
	if m.Time != 0 {
		out["time"] = m.Time
	}
	if m.Type != "" {
		out["type"] = m.Type
	}
	if m.UserID != "" {
		out["userId"] = m.UserID
	}
	if m.Nickname != "" {
		out["nickname"] = m.Nickname
	}
	if m.Avatar != "" {
		out["avatar"] = m.Avatar
	}
	if m.HasContent() {
		out["content"] = m.Content
	}
	if m.State != nil {
		out["state"] = *m.State
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a JSON object. Known keys must carry the expected
// JSON type; everything else is kept in Extra.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("message is not a JSON object")
	}

	var msg Message
	fields := []struct {
		key string
		dst any
	}{
		{"id", &msg.ID},
		{"time", &msg.Time},
		{"type", &msg.Type},
		{"userId", &msg.UserID},
		{"nickname", &msg.Nickname},
		{"avatar", &msg.Avatar},
		{"content", &msg.Content},
		{"state", &msg.State},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok || string(v) == "null" {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("field %q: %w", f.key, err)
		}
	}

	if v, ok := raw["content"]; ok && string(v) != "null" && msg.Content == "" {
		msg.emptyContent = true
	}

	maps.DeleteFunc(raw, func(k string, _ json.RawMessage) bool {
		_, known := knownKeys[k]
		return known
	})
	if len(raw) > 0 {
		msg.Extra = raw
	}

	*m = msg
	return nil
}

// ParseFrame decodes an inbound text frame.
func ParseFrame(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// HistoryFrame is the replay sent to a client right after it logs in.
type HistoryFrame struct {
	Type    Kind      `json:"type"`
	Content []Message `json:"content"`
}

// NewHistoryFrame wraps a history snapshot for delivery.
func NewHistoryFrame(history []Message) HistoryFrame {
	return HistoryFrame{Type: KindHistory, Content: history}
}
