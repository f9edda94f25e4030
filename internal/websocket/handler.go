package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"queryflow/pkg/interfaces"
	"queryflow/pkg/types"
)

// Handler upgrades HTTP requests into notification subscriptions.
type Handler struct {
	registry  *Registry
	directory interfaces.SessionDirectory
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandler creates a handler that accepts subscriptions for sessions known
// to directory. checkOrigin may be nil to accept any origin.
func NewHandler(registry *Registry, directory interfaces.SessionDirectory, checkOrigin func(*http.Request) bool, logger *slog.Logger) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  registry,
		directory: directory,
		upgrader: websocket.Upgrader{
			CheckOrigin:      checkOrigin,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// HandleWebSocket serves GET /ws?session_id=<uuid>.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "Missing required query parameter: session_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidSessionID(sessionID) {
		http.Error(w, "Invalid session_id format", http.StatusBadRequest)
		return
	}
	if !h.directory.Exists(sessionID) {
		http.Error(w, "Session not found or ended", http.StatusNotFound)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	conn := NewConnection(ws, sessionID)
	if err := h.registry.RegisterConnection(conn); err != nil {
		h.logger.Error("failed to register connection", "session_id", sessionID, "error", err)
		_ = conn.Close()
		return
	}
	h.logger.Debug("notification subscriber connected", "session_id", sessionID, "conn_id", conn.ID())

	if err := conn.WriteJSON(map[string]any{
		"type":       "connected",
		"session_id": sessionID,
		"timestamp":  time.Now().UTC(),
	}); err != nil {
		h.logger.Warn("failed to send greeting", "conn_id", conn.ID(), "error", err)
	}

	go h.handleConnection(conn)
}

func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		h.logger.Debug("notification subscriber disconnected", "session_id", conn.GetSessionID(), "conn_id", conn.ID())
	}()

	conn.readLoop(func(err error) {
		h.logger.Warn("websocket read error", "conn_id", conn.ID(), "error", err)
	})
}
