package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/botchat/internal/config"
)

// Handler serves the chat's HTTP endpoints.
type Handler struct {
	cfg      config.Config
	hub      *Hub
	deps     SessionDeps
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler builds the HTTP handlers for hub. Origins are checked against
// cfg.AllowedOrigins.
func NewHandler(cfg config.Config, hub *Hub, deps SessionDeps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))
	policy := newOriginPolicy(cfg.AllowedOrigins, logger)

	return &Handler{
		cfg:  cfg,
		hub:  hub,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		logger: logger,
	}
}

// WebSocket upgrades the request and hands the connection to the hub. Each
// connection starts unauthenticated and must send a login frame.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	h.hub.Serve(NewClient(conn, h.hub, r.RemoteAddr, h.cfg, h.deps))
}

// Health reports that the server is up along with online user and
// connection counts.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	users := 0
	if h.deps.Users != nil {
		users = h.deps.Users.Len()
	}
	_, _ = fmt.Fprintf(w, "chat server is running\nusers online: %d\nconnections: %d\n", users, h.hub.ClientCount())
}

// TestPage serves a minimal HTML client for manual testing of the chat
// protocol.
func (h *Handler) TestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		h.logger.Warn("error writing HTML response", slog.Any("error", err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userId" placeholder="User ID">
        <input type="text" id="nickname" placeholder="Nickname">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message... (@ChatBot to ask the bot)" disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function render(record) {
            const who = (record.nickname || '?') + '@' + (record.userId || '?');
            switch (record.type) {
            case 'login':
                addLine(who + (record.state === false ? ' login rejected' : ' joined'));
                break;
            case 'logout':
                addLine(who + ' left');
                break;
            case 'msg':
                addLine(who + ': ' + record.content, 'green');
                break;
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/api/chat');

            ws.onopen = function() {
                updateStatus(true);
                ws.send(JSON.stringify({
                    type: 'login',
                    userId: document.getElementById('userId').value.trim() || 'user_' + Date.now(),
                    nickname: document.getElementById('nickname').value.trim()
                }));
            };

            ws.onmessage = function(event) {
                if (event.data === 'pong') {
                    return;
                }
                const frame = JSON.parse(event.data);
                if (frame.type === 'history') {
                    addLine('--- ' + frame.content.length + ' earlier messages ---');
                    frame.content.forEach(render);
                    return;
                }
                render(frame);
            };

            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addLine('Connection error');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'logout' }));
            } else {
                connect();
            }
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            if (content && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'msg', content: content }));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
