package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	myMiddleware "go-chat-live/internal/middleware"
	"go-chat-live/internal/user"

	"github.com/gorilla/websocket"
)

type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler serves the websocket endpoint. An empty allowedOrigin accepts
// any origin.
func NewHandler(hub *Hub, allowedOrigin string, logger *slog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || origin == "" || origin == allowedOrigin
			},
		},
		log: logger.With("component", "ws"),
	}
}

// ServeWs authenticates before upgrading, so a rejected handshake gets a
// plain 401 and no socket is ever opened for it.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	lc := h.hub.NewLifecycle()
	if err := lc.Handshake(myMiddleware.TokenFromRequest(r)); err != nil {
		writeUnauthorized(w, "Authentication error")
		return
	}

	var (
		client   *Client
		upgraded bool
	)
	conn, err := lc.Authenticate(r.Context(), func(user.Profile) (Sink, error) {
		upgraded = true
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return nil, err
		}
		client = newClient(ws, h.log)
		return client, nil
	})
	if err != nil {
		if client != nil {
			client.conn.Close()
		}
		if upgraded {
			h.log.Warn("Websocket attach failed", "error", err)
			return
		}
		if !errors.Is(err, user.ErrInvalidToken) && !errors.Is(err, user.ErrTokenExpired) && !errors.Is(err, user.ErrUserNotFound) {
			h.log.Error("Verify websocket credential failed", "error", err)
		}
		writeUnauthorized(w, "Authentication error")
		return
	}

	go client.writePump()
	client.readPump(r.Context(), conn, h.hub.Router, lc.Close)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
