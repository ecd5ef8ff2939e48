// Package ws adapts hub sessions to websocket connections: one reader
// translating client commands into the session's staging ring, one writer
// broadcasting snapshots at the configured send rate.
package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stoptrainer/server"
)

// Handler upgrades HTTP requests and binds each connection to a fresh session.
type Handler struct {
	hub      *server.Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket endpoint.
func NewHandler(hub *server.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the trainer client is served from arbitrary local origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP runs one connection to completion. The session dies with the
// connection; there is no reattach.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := h.hub.StartSession()
	logger := h.logger.With(zap.String("session_id", session.ID.String()))
	c := newConn(sock, session, logger)

	go c.sendLoop(h.hub.SendInterval())
	c.readLoop()

	h.hub.CloseSession(session.ID)
	c.close()
}
