package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP surface. devIssuer enables POST /auth/token.
func NewRouter(h *Handler, allowedOrigins []string, devIssuer bool) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if devIssuer {
		r.POST("/auth/token", h.IssueToken)
	}
	r.GET("/ws", h.ServeWebSocket)

	api := r.Group("/api/v1", h.RequireAuth())
	{
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms", h.ListRooms)
		api.DELETE("/rooms/:roomId", h.DeleteRoom)
		api.GET("/rooms/:roomId/messages", h.ListMessages)
		api.POST("/rooms/:roomId/messages", h.SendMessage)
		api.POST("/rooms/:roomId/read", h.MarkRead)
		api.GET("/rooms/:roomId/unread", h.RoomUnread)
		api.GET("/unread", h.TotalUnread)

		api.GET("/blocks", h.ListBlocked)
		api.POST("/blocks", h.Block)
		api.DELETE("/blocks/:userId", h.Unblock)

		api.GET("/presence/:userId", h.Presence)
	}

	if len(allowedOrigins) == 0 {
		return r
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})(r)
}
