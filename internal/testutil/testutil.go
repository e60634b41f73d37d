// Package testutil provides helpers shared by the chat server's tests: a
// discard logger, WebSocket dialing and JSON frame exchange.
package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// ReadTimeout bounds every read made through these helpers.
const ReadTimeout = 3 * time.Second

// Logger returns a logger that drops everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WebSocketURL turns an httptest server URL into the chat endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/api/chat"
}

// ConnectWebSocket dials url with the given Origin header. An empty origin
// sends no header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url and closes the connection when the test ends.
func MustConnect(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()

	conn, _, err := ConnectWebSocket(url, origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendJSON writes v as one text frame.
func SendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// SendText writes a raw text frame.
func SendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// ReadRaw reads the next text frame.
func ReadRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

// ReadFrame reads the next frame as a generic JSON object.
func ReadFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	var frame map[string]any
	require.NoError(t, json.Unmarshal(ReadRaw(t, conn), &frame))
	return frame
}

// ReadUntil reads frames until match accepts one and returns it.
func ReadUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()

	deadline := time.Now().Add(ReadTimeout)
	for time.Now().Before(deadline) {
		frame := ReadFrame(t, conn)
		if match(frame) {
			return frame
		}
	}
	t.Fatalf("no matching frame within %s", ReadTimeout)
	return nil
}

// ExpectNoMessage fails if a frame arrives within wait.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}

// Login sends a login frame.
func Login(t *testing.T, conn *websocket.Conn, userID, nickname string) {
	t.Helper()
	SendJSON(t, conn, map[string]any{"type": "login", "userId": userID, "nickname": nickname})
}

// Say sends a chat message frame.
func Say(t *testing.T, conn *websocket.Conn, content string) {
	t.Helper()
	SendJSON(t, conn, map[string]any{"type": "msg", "content": content})
}

// IsType matches frames of the given type.
func IsType(kind string) func(map[string]any) bool {
	return func(frame map[string]any) bool {
		return frame["type"] == kind
	}
}
