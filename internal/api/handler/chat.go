package handler

import (
	"campuschat/backend/internal/chat"
	"campuschat/backend/internal/models"
	"net/http"

	"github.com/gin-gonic/gin"
)

type createRoomRequest struct {
	UserA *models.Participant `json:"user_a"`
	UserB models.Participant  `json:"user_b"`
}

// CreateRoom returns the room of a pair, creating it on first contact.
// user_a defaults to the caller, who must be one of the two.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	me := caller(c)
	a := me
	if req.UserA != nil {
		a = *req.UserA
	}
	if !a.Equal(me) && !req.UserB.Equal(me) {
		h.respondError(c, chat.ErrNotParticipant)
		return
	}

	room, err := h.Chat.GetOrCreateRoom(c.Request.Context(), a, req.UserB)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Chat.ListRooms(c.Request.Context(), caller(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	if err := h.Chat.DeleteRoom(c.Request.Context(), c.Param("roomId"), caller(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListMessages(c *gin.Context) {
	page, size := h.Chat.PageBounds(queryInt(c, "page"), queryInt(c, "page_size"))
	msgs, err := h.Chat.ListMessages(c.Request.Context(), c.Param("roomId"), caller(c), page, size)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "page": page, "page_size": size})
}

type sendMessageRequest struct {
	Content   string           `json:"content"`
	Media     []string         `json:"media"`
	MediaType models.MediaType `json:"media_type"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	msg, err := h.Chat.SendMessage(c.Request.Context(), chat.SendInput{
		RoomID:    c.Param("roomId"),
		Sender:    caller(c),
		Content:   req.Content,
		Media:     req.Media,
		MediaType: req.MediaType,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) MarkRead(c *gin.Context) {
	n, err := h.Chat.MarkRead(c.Request.Context(), c.Param("roomId"), caller(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (h *Handler) RoomUnread(c *gin.Context) {
	roomID := c.Param("roomId")
	n, err := h.Chat.UnreadCountForRoom(c.Request.Context(), roomID, caller(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "unread": n})
}

func (h *Handler) TotalUnread(c *gin.Context) {
	n, err := h.Chat.TotalUnreadCount(c.Request.Context(), caller(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (h *Handler) ListBlocked(c *gin.Context) {
	rels, err := h.Chat.ListBlocked(c.Request.Context(), caller(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": rels})
}

type blockRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *Handler) Block(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	if err := h.Chat.Block(c.Request.Context(), caller(c).ID, req.UserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Unblock(c *gin.Context) {
	if err := h.Chat.Unblock(c.Request.Context(), caller(c).ID, c.Param("userId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Presence(c *gin.Context) {
	userID := c.Param("userId")
	online, err := h.Hub.Presence.IsOnline(c.Request.Context(), userID)
	if err != nil {
		h.log.WithError(err).Warn("presence lookup failed")
		online = h.Hub.Registry.IsConnected(userID)
	}
	c.JSON(http.StatusOK, models.PresencePayload{UserID: userID, IsOnline: online})
}
