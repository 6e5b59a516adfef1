// Package websocket implements the push-status hub. Connected clients
// receive a STATUS_UPDATE envelope on every canonical state change and
// ERROR envelopes on failures.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/demovault/retro-agent/internal/emulator"
	"github.com/demovault/retro-agent/internal/logger"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // LAN-local dev agent, allow all origins
	},
}

// Message types pushed to clients.
const (
	TypeStatusUpdate = "STATUS_UPDATE"
	TypeError        = "ERROR"
)

// Envelope is the wire format for every pushed message.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	ID        string `json:"id,omitempty"`
	Payload   any    `json:"payload"`
}

// ErrorPayload is the payload of an ERROR envelope.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// StatusFunc supplies the current snapshot for a client's initial message.
type StatusFunc func() emulator.Snapshot

// Hub manages WebSocket connections and message distribution.
type Hub struct {
	status StatusFunc

	mu       sync.RWMutex
	clients  map[*websocket.Conn]struct{}
	launchID string

	// writeMu serializes writes; gorilla connections do not support
	// concurrent writers.
	writeMu sync.Mutex
}

// NewHub creates a hub. status supplies the snapshot sent to each newly
// connected client.
func NewHub(status StatusFunc) *Hub {
	return &Hub{
		status:  status,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// HandleWS upgrades GET /ws connections and serves them until close.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.add(conn)
	defer h.remove(conn)
	logger.Debugf("ws: client connected (total=%d)", h.ConnectionCount())

	// New clients get the current status immediately.
	if h.status != nil {
		h.send(conn, h.newEnvelope(TypeStatusUpdate, h.status()))
	}

	// Inbound messages are not part of the protocol; read only to detect
	// close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("ws: read error: %v", err)
			}
			break
		}
	}
	logger.Debugf("ws: client disconnected")
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// SetLaunchID sets the launch id stamped on subsequent envelopes for
// message correlation. Empty clears it.
func (h *Hub) SetLaunchID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.launchID = id
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StateChanged implements emulator.Listener: every new snapshot is pushed
// to all clients.
func (h *Hub) StateChanged(snap emulator.Snapshot) {
	h.broadcast(h.newEnvelope(TypeStatusUpdate, snap))
}

// NotifyError pushes an ERROR envelope to all clients.
func (h *Hub) NotifyError(code, message string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	h.broadcast(h.newEnvelope(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
		Details: details,
	}))
}

func (h *Hub) newEnvelope(msgType string, payload any) Envelope {
	h.mu.RLock()
	launchID := h.launchID
	h.mu.RUnlock()

	return Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ID:        launchID,
		Payload:   payload,
	}
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	var dead []*websocket.Conn
	for _, conn := range conns {
		if err := h.send(conn, env); err != nil {
			logger.Errorf("ws: send failed: %v", err)
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, conn := range dead {
			delete(h.clients, conn)
			_ = conn.Close()
		}
		h.mu.Unlock()
	}
}

func (h *Hub) send(conn *websocket.Conn, env Envelope) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(env)
}
