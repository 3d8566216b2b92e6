package ws

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"spotter/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// In production, this should be more restrictive
		return true
	},
}

// Handler handles WebSocket connections for real-time detections
type Handler struct {
	hub           *DetectionHub
	authenticator *auth.Authenticator
}

// NewHandler creates a new WebSocket handler. authenticator may be nil
// when the surface runs without authentication.
func NewHandler(hub *DetectionHub, authenticator *auth.Authenticator) *Handler {
	return &Handler{hub: hub, authenticator: authenticator}
}

// ServeHTTP handles WebSocket upgrade requests
// Expected URL format: /ws/detections/{session_id}?token=...
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/ws/detections/")
	sessionID := strings.TrimSuffix(path, "/")

	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	// Browsers cannot set headers on WebSocket upgrades, so the token
	// rides in the query string.
	if h.authenticator != nil && h.authenticator.IsEnabled() {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "token required", http.StatusUnauthorized)
			return
		}
		if _, err := h.authenticator.ValidateToken(token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[WS] Upgrade error: %v\n", err)
		return
	}

	fmt.Printf("[WS] New connection for session %s from %s\n", sessionID, r.RemoteAddr)

	h.hub.Register(sessionID, conn)

	go h.readPump(sessionID, conn)
}

// readPump reads messages from the WebSocket connection
// This keeps the connection alive and handles client disconnection
func (h *Handler) readPump(sessionID string, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(sessionID, conn)
		conn.Close()
	}()

	conn.SetReadLimit(512) // Small limit since client shouldn't send much
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()

	// Read loop - mainly to detect disconnection
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WS] Read error for session %s: %v\n", sessionID, err)
			}
			break
		}
	}
}
