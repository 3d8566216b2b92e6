package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// DetectionHub fans each session's published results out to its
// subscribed WebSocket clients. Connections live exactly as long as the
// session they watch: when a session ends, DropSession closes them.
type DetectionHub struct {
	mu       sync.RWMutex
	sessions map[string]map[*websocket.Conn]struct{}
}

// NewDetectionHub creates a new detection hub
func NewDetectionHub() *DetectionHub {
	return &DetectionHub{
		sessions: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds a connection for a specific session
func (h *DetectionHub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*websocket.Conn]struct{})
	}
	h.sessions[sessionID][conn] = struct{}{}
	fmt.Printf("[WS] Client registered for session %s (total: %d)\n", sessionID, len(h.sessions[sessionID]))
}

// Unregister removes a connection for a specific session
func (h *DetectionHub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.sessions[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.sessions, sessionID)
		}
		fmt.Printf("[WS] Client unregistered for session %s\n", sessionID)
	}
}

// HasClients returns true if there are any clients connected for a session
func (h *DetectionHub) HasClients(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions[sessionID]) > 0
}

// DropSession disconnects every client of a session. Called when the
// session stops or is evicted; there is nothing left to stream.
func (h *DetectionHub) DropSession(sessionID string) {
	h.mu.Lock()
	conns := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	for conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, closeMsg)
		conn.Close()
	}

	if len(conns) > 0 {
		fmt.Printf("[WS] Dropped %d client(s) of ended session %s\n", len(conns), sessionID)
	}
}

// BroadcastDetections sends the merged detection set to session subscribers
func (h *DetectionHub) BroadcastDetections(msg *DetectionsMessage) {
	h.broadcast(msg.SessionID, msg)
}

// BroadcastStatus sends a session status message to subscribers
func (h *DetectionHub) BroadcastStatus(msg *StatusMessage) {
	h.broadcast(msg.SessionID, msg)
}

// broadcast writes one message to every subscriber of a session. The
// connection set is snapshotted under the lock; writes happen outside it
// so a slow client never blocks registration, and failed connections are
// unregistered afterwards.
func (h *DetectionHub) broadcast(sessionID string, msg interface{}) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.sessions[sessionID]))
	for conn := range h.sessions[sessionID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		fmt.Printf("[WS] Error marshaling message: %v\n", err)
		return
	}

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			fmt.Printf("[WS] Error sending to client: %v\n", err)
			h.Unregister(sessionID, conn)
			conn.Close()
		}
	}
}
