package server

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Tyrowin/botchat/internal/chat"
)

const (
	pingFrame = "ping"
	pongFrame = "pong"

	defaultNickname = "Unknown user"
	logoutContent   = "connection closed"
)

// BotTrigger is the part of the bot a session drives.
type BotTrigger interface {
	Mentioned(content string) bool
	Process(trigger string, history []chat.Message)
	Welcome(nickname string)
}

// SessionDeps are the shared services every session works against.
type SessionDeps struct {
	Users *chat.UserRegistry
	Bot   BotTrigger
}

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateLoggedIn
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateLoggedIn:
		return "logged_in"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the protocol state machine of one connection. It is driven only
// by that connection's read goroutine, so it needs no locking.
type Session struct {
	client   *Client
	users    *chat.UserRegistry
	bot      BotTrigger
	identity chat.Identity
	state    sessionState
	logger   *slog.Logger
}

func newSession(client *Client, deps SessionDeps) *Session {
	return &Session{
		client: client,
		users:  deps.Users,
		bot:    deps.Bot,
		state:  stateUnauthenticated,
		logger: client.logger.With(slog.String("component", "session")),
	}
}

// LoggedIn reports whether the session holds an online identity.
func (s *Session) LoggedIn() bool {
	return s.state == stateLoggedIn
}

// Identity returns the identity of a logged-in session.
func (s *Session) Identity() chat.Identity {
	return s.identity
}

// HandleFrame interprets one inbound text frame. It returns false when the
// connection must be closed. Keep-alive pings and logouts bypass the rate
// limit.
func (s *Session) HandleFrame(raw []byte) bool {
	if string(raw) == pingFrame {
		s.client.enqueue([]byte(pongFrame))
		return true
	}
	if s.state == stateClosed {
		return false
	}

	msg, err := chat.ParseFrame(raw)
	if err != nil {
		s.logger.Warn("dropping malformed frame", slog.Any("error", err))
		return true
	}
	if msg.Type != chat.KindLogout && !s.client.checkRateLimit() {
		return true
	}

	switch msg.Type {
	case chat.KindLogin:
		s.login(msg)
	case chat.KindMsg:
		s.message(msg)
	case chat.KindLogout:
		if s.state != stateLoggedIn {
			return true
		}
		s.logout()
		return false
	default:
		s.logger.Debug("ignoring frame", slog.String("type", string(msg.Type)))
	}
	return true
}

// Disconnect runs the logout procedure if the session is still logged in and
// moves it to the closed state.
func (s *Session) Disconnect() {
	if s.state == stateLoggedIn {
		s.logout()
	}
	s.state = stateClosed
}

func (s *Session) login(frame chat.Message) {
	if s.state != stateUnauthenticated {
		s.logger.Debug("ignoring login", slog.String("state", s.state.String()))
		return
	}
	if frame.UserID == "" {
		s.logger.Warn("login without userId")
		return
	}

	id := frame.Identity()
	if id.Nickname == "" {
		id.Nickname = defaultNickname
	}

	if err := s.users.Add(id); err != nil {
		if errors.Is(err, chat.ErrAlreadyOnline) {
			s.logger.Info("login rejected: user already online", slog.String("user_id", id.UserID))
		}
		s.reply(frame.WithState(false))
		return
	}

	s.identity = id
	s.state = stateLoggedIn
	s.logger.Info("login succeeded", slog.String("user", chatLine(id, "online")))

	if _, err := s.client.hub.Join(s.client, frame.WithIdentity(id).WithState(true)); err != nil {
		s.logger.Error("publish login failed", slog.Any("error", err))
		s.users.Remove(id.UserID)
		s.identity = chat.Identity{}
		s.state = stateUnauthenticated
		return
	}

	if s.bot != nil {
		s.bot.Welcome(id.Nickname)
	}
}

func (s *Session) message(frame chat.Message) {
	if s.state != stateLoggedIn {
		return
	}

	saved, err := s.client.hub.Publish(frame.WithIdentity(s.identity), chat.KindMsg)
	if err != nil {
		s.logger.Error("publish message failed", slog.Any("error", err))
		return
	}
	s.logger.Info(chatLine(s.identity, saved.Content))

	if s.bot != nil && s.bot.Mentioned(saved.Content) {
		s.bot.Process(saved.Content, s.client.hub.History())
	}
}

// logout removes the identity and announces it. The state check makes it run
// at most once per session.
func (s *Session) logout() {
	if s.state != stateLoggedIn {
		return
	}
	s.users.Remove(s.identity.UserID)
	s.state = stateClosed
	s.logger.Info(chatLine(s.identity, "offline"))

	record := chat.Message{Type: chat.KindLogout, Content: logoutContent}.WithIdentity(s.identity)
	if _, err := s.client.hub.Publish(record, chat.KindLogout); err != nil {
		s.logger.Error("publish logout failed", slog.Any("error", err))
	}
}

func (s *Session) reply(msg chat.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("encode reply failed", slog.Any("error", err))
		return
	}
	if !s.client.enqueue(payload) {
		s.logger.Warn("reply not delivered")
	}
}

func chatLine(id chat.Identity, content string) string {
	return id.Nickname + "@" + id.UserID + ": " + content
}
