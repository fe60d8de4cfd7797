package services

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/lccanvas/canvasd/internal/core/ports"
)

// hubSendBuffer is the per-connection outbox depth. A stalled socket
// loses events rather than blocking the worker.
const hubSendBuffer = 64

// HubConn is one registered client connection. The transport layer
// drains Outbox and writes each payload to its socket.
type HubConn struct {
	userID string
	send   chan []byte
}

// UserID returns the owner this connection belongs to.
func (c *HubConn) UserID() string { return c.userID }

// Outbox is the stream of marshalled events for this connection. It is
// closed on Unregister.
func (c *HubConn) Outbox() <-chan []byte { return c.send }

// Hub routes per-job events to the owning user's live connections. The
// worker goroutine publishes through SendToUser; each connection's
// writer drains its own buffered outbox, so a slow client never stalls
// job execution.
type Hub struct {
	logger *slog.Logger
	mu     sync.Mutex
	byUser map[string]map[*HubConn]struct{}
}

var _ ports.Notifier = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		byUser: make(map[string]map[*HubConn]struct{}),
	}
}

// Register adds a connection for userID and returns its handle.
func (h *Hub) Register(userID string) *HubConn {
	conn := &HubConn{userID: userID, send: make(chan []byte, hubSendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.byUser[userID]
	if conns == nil {
		conns = make(map[*HubConn]struct{})
		h.byUser[userID] = conns
	}
	conns[conn] = struct{}{}
	h.logger.Info("ws client connected", "owner_id", userID, "connections", len(conns))
	return conn
}

// Unregister removes the connection and closes its outbox. Safe to call
// more than once.
func (h *Hub) Unregister(conn *HubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.byUser[conn.userID]
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.byUser, conn.userID)
	}
	close(conn.send)
	h.logger.Info("ws client disconnected", "owner_id", conn.userID)
}

// SendToUser fans the payload out to every connection of userID. The
// payload is marshalled once; full outboxes drop the event.
func (h *Hub) SendToUser(userID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("failed to marshal ws event", "owner_id", userID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.byUser[userID] {
		select {
		case conn.send <- data:
		default:
			h.logger.Warn("ws outbox full, dropping event", "owner_id", userID)
		}
	}
}

// Connections reports how many sockets userID currently has.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byUser[userID])
}
