// Package handler exposes the chat service over HTTP and websockets.
package handler

import (
	"campuschat/backend/internal/chat"
	"campuschat/backend/internal/chathub"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	Chat *chat.Service
	Hub  *chathub.ManagerService
	Auth *Authenticator

	upgrader   websocket.Upgrader
	sendBuffer int
	log        *logrus.Entry
}

func NewHandler(svc *chat.Service, hub *chathub.ManagerService, auth *Authenticator, allowedOrigins []string, sendBuffer int, logger *logrus.Logger) *Handler {
	return &Handler{
		Chat: svc,
		Hub:  hub,
		Auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		sendBuffer: sendBuffer,
		log:        logger.WithField("component", "http"),
	}
}

// originChecker allows requests without an Origin header (native clients)
// and browser requests from the configured origins. "*" allows all.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
