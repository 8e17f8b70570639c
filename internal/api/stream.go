package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"poolview/internal/auth"
	"poolview/internal/coordinator"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// StreamHandler pushes each refreshed snapshot to WebSocket clients
type StreamHandler struct {
	coord        *coordinator.Coordinator
	wsTokenStore *auth.WSTokenStore
	logger       *log.Logger
	upgrader     websocket.Upgrader
}

// NewStreamHandler creates new stream handler
func NewStreamHandler(coord *coordinator.Coordinator, wsTokenStore *auth.WSTokenStore, logger *log.Logger) *StreamHandler {
	h := &StreamHandler{
		coord:        coord,
		wsTokenStore: wsTokenStore,
		logger:       logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin validates the WebSocket handshake using a one-time CSRF token
func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	token := r.URL.Query().Get("ws_token")
	if token == "" {
		h.logger.Printf("[Stream] WebSocket rejected: missing ws_token")
		return false
	}

	// One-time use, auto-deleted after validation
	if _, valid := h.wsTokenStore.Validate(token); !valid {
		h.logger.Printf("[Stream] WebSocket rejected: invalid or expired ws_token")
		return false
	}

	return true
}

// Connect handles GET /api/pool/stream
func (h *StreamHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[Stream] WebSocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	// Send the current snapshot right away so clients don't wait a poll cycle
	if snap, _, _ := h.coord.Snapshot(); snap != nil {
		ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := ws.WriteJSON(snap); err != nil {
			return
		}
	}

	updates := h.coord.Subscribe()
	defer h.coord.Unsubscribe(updates)

	// Drain client frames so close handling works; we never expect input
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(streamPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := ws.WriteJSON(snap); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Printf("[Stream] Write failed: %v", err)
				}
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
