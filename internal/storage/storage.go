// Package storage persists chat rooms, messages and block relations. The
// Storage interface is the durable source of truth for the chat service;
// Service implements it on PostgreSQL through GORM and MemoryStore keeps
// everything in process for development and tests.
package storage

import (
	"campuschat/backend/internal/models"
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a room (or block) does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("storage: duplicate record")
)

// Storage is the persistence contract consumed by the chat service.
type Storage interface {
	// Rooms
	CreateRoom(ctx context.Context, room *models.ChatRoom) error
	FindRoomByPair(ctx context.Context, a, b models.Participant) (*models.ChatRoom, error)
	GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]models.ChatRoom, error)
	DeleteRoom(ctx context.Context, roomID string) error

	// Messages
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, roomID string, offset, limit int) ([]models.Message, error)
	LastMessages(ctx context.Context, roomIDs []string) (map[string]models.Message, error)

	// Read state
	MarkRead(ctx context.Context, roomID, readerID string) (int64, error)
	UnreadCountForRoom(ctx context.Context, roomID, userID string) (int64, error)
	UnreadCountsByRoom(ctx context.Context, userID string) (map[string]int64, error)
	TotalUnreadCount(ctx context.Context, userID string) (int64, error)

	// Blocks
	Block(ctx context.Context, blockerID, blockedID string) error
	Unblock(ctx context.Context, blockerID, blockedID string) error
	ListBlocked(ctx context.Context, blockerID string) ([]models.BlockRelation, error)
	IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error)
}

// reverse flips a newest-first page into chronological order.
func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
