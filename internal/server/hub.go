// Package server coordinates client registration, message publishing and
// broadcast, and connection cleanup for the chat system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/botchat/internal/chat"
)

// ErrHubClosed is returned by Publish once the hub has been shut down.
var ErrHubClosed = errors.New("hub is shut down")

type publishRequest struct {
	msg      chat.Message
	kind     chat.Kind
	replayTo *Client
	result   chan publishResult
}

type publishResult struct {
	msg chat.Message
	err error
}

// Hub tracks the live WebSocket connections and fans saved messages out to
// them. Every message goes through the Run loop, which saves it to the
// history and broadcasts the stored record, so all clients see messages in
// save order.
type Hub struct {
	clients map[*Client]bool
	mutex   sync.RWMutex

	history *chat.HistoryStore
	publish chan publishRequest

	wg      sync.WaitGroup
	closing bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger
}

// NewHub creates a Hub that records messages in history. The returned Hub
// must be started with Run.
func NewHub(history *chat.HistoryStore, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients: make(map[*Client]bool),
		history: history,
		publish: make(chan publishRequest),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger.With(slog.String("component", "hub")),
	}
}

// Register adds client to the broadcast set. It reports false when the hub
// is already shut down.
func (h *Hub) Register(client *Client) bool {
	return h.register(client, false)
}

func (h *Hub) register(client *Client, startPumps bool) bool {
	if client == nil {
		h.logger.Warn("received nil client registration; skipping")
		return false
	}

	h.mutex.Lock()
	if h.closing {
		h.mutex.Unlock()
		return false
	}
	if _, ok := h.clients[client]; ok {
		h.mutex.Unlock()
		return true
	}
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	if startPumps {
		h.wg.Add(2)
	}
	h.mutex.Unlock()

	h.logger.Info("client registered", slog.String("addr", client.addr), slog.Int("clients", clientCount))
	return true
}

// Unregister removes client and closes its send channel. Unregistering a
// client twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.logger.Info("client unregistered", slog.String("addr", client.addr), slog.Int("clients", clientCount))
}

// Serve registers client and starts its read and write pumps.
func (h *Hub) Serve(client *Client) {
	if !h.register(client, true) {
		client.closeConnection()
		return
	}

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// History returns a snapshot of the stored messages, oldest first.
func (h *Hub) History() []chat.Message {
	return h.history.Snapshot()
}

// Publish saves msg and broadcasts the stored record to every client. It
// returns the stored record.
func (h *Hub) Publish(msg chat.Message, defaultKind chat.Kind) (chat.Message, error) {
	return h.submit(publishRequest{msg: msg, kind: defaultKind})
}

// Join sends the current history to client and then publishes msg as a
// login record. Both happen inside the publish loop, so client receives
// every later message exactly once.
func (h *Hub) Join(client *Client, msg chat.Message) (chat.Message, error) {
	return h.submit(publishRequest{msg: msg, kind: chat.KindLogin, replayTo: client})
}

func (h *Hub) submit(req publishRequest) (chat.Message, error) {
	req.result = make(chan publishResult, 1)
	select {
	case h.publish <- req:
	case <-h.ctx.Done():
		return chat.Message{}, ErrHubClosed
	}
	res := <-req.result
	return res.msg, res.err
}

// Run starts the hub's main event loop, handling publish requests until
// Shutdown is called. This method should be called in a separate goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			return

		case req := <-h.publish:
			req.result <- h.handlePublish(req)
		}
	}
}

func (h *Hub) handlePublish(req publishRequest) publishResult {
	if req.replayTo != nil {
		h.replayHistory(req.replayTo)
	}

	saved, err := h.history.Save(req.msg, req.kind)
	if err != nil {
		return publishResult{err: fmt.Errorf("save message: %w", err)}
	}
	payload, err := json.Marshal(saved)
	if err != nil {
		return publishResult{err: fmt.Errorf("encode message: %w", err)}
	}

	h.Broadcast(payload)
	return publishResult{msg: saved}
}

func (h *Hub) replayHistory(client *Client) {
	history := h.history.Snapshot()
	if len(history) == 0 {
		return
	}
	payload, err := json.Marshal(chat.NewHistoryFrame(history))
	if err != nil {
		h.logger.Error("encode history failed", slog.String("addr", client.addr), slog.Any("error", err))
		return
	}
	if !h.safeSend(client, payload) {
		h.logger.Warn("history replay not delivered", slog.String("addr", client.addr))
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", slog.Any("panic", r))
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Broadcast sends payload to every registered client. A client whose send
// buffer is full is dropped; delivery to the others continues.
func (h *Hub) Broadcast(payload []byte) {
	clients := h.getClientSnapshot()
	h.logger.Debug("broadcasting message", slog.Int("clients", len(clients)))

	var clientsToRemove []*Client
	for _, client := range clients {
		if !h.safeSend(client, payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}
	h.removeFailedClients(clientsToRemove)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.logger.Warn("client removed due to full send buffer", slog.String("addr", client.addr))
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes every live connection; the pumps then unregister
// their clients and log their users out.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	clients := h.getClientSnapshot()
	for _, client := range clients {
		client.closeConnection()
	}

	h.logger.Info("closed client connections", slog.Int("clients", len(clients)))
}

// Shutdown refuses new clients, closes every connection and waits for the
// client goroutines to finish or for timeout to elapse. The publish loop keeps
// running meanwhile so the logout records of disconnecting users are saved
// and broadcast; it is stopped last.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.mutex.Lock()
	h.closing = true
	h.mutex.Unlock()

	h.shutdownClients()

	// Wait for all client goroutines to finish with timeout
	pumpsDone := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(pumpsDone)
	}()

	var err error
	select {
	case <-pumpsDone:
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		err = context.DeadlineExceeded
	}

	h.cancel()
	// Wait for Run() to complete
	<-h.done

	if err == nil {
		h.logger.Info("hub shutdown completed successfully")
	}
	return err
}
