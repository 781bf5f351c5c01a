package handler

import (
	"campuschat/backend/internal/chathub"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServeWebSocket authenticates the caller, upgrades the connection and
// hands it to the hub. Identity is checked before anything is registered.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	tok, err := bearerToken(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		return
	}
	user, err := h.Auth.Parse(tok)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: "invalid or expired token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(conn, h.Hub, user, h.sendBuffer, h.log.Logger)
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}
	client.Run()
}
