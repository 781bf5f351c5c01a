package chat

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotParticipant = errors.New("user is not a participant of this room")
	ErrRoomNotFound   = errors.New("room not found")
	ErrBlocked        = errors.New("recipient has blocked the sender")
	// ErrPersistence marks a transient store failure; callers may retry.
	ErrPersistence = errors.New("persistence failure")
)
