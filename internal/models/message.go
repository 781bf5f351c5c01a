package models

import (
	"campuschat/backend/internal/idgen"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// MediaType tags the kind of media attached to a message.
type MediaType string

const (
	MediaNone  MediaType = ""
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaFile  MediaType = "file"
)

// Valid reports whether m is a known media kind.
func (m MediaType) Valid() bool {
	switch m {
	case MediaNone, MediaImage, MediaVideo, MediaAudio, MediaFile:
		return true
	}
	return false
}

// Message is one entry of a room's append-only log. Only IsRead changes
// after creation.
type Message struct {
	// ID is a monotonic ULID; it breaks ties between equal CreatedAt values.
	ID string `gorm:"primaryKey;type:text" json:"id"`
	// RoomID references the owning ChatRoom.
	RoomID string `gorm:"type:text;not null;index:idx_room_created,priority:1" json:"room_id"`
	// SenderID and SenderType identify the author.
	SenderID   string `gorm:"type:text;not null" json:"sender_id"`
	SenderType Role   `gorm:"type:text;not null" json:"sender_type"`
	// Content is the text body. It may be empty when Media is set.
	Content string `gorm:"type:text;not null" json:"content"`
	// Media holds references (URLs or storage keys) to attached files.
	Media pq.StringArray `gorm:"type:text[]" json:"media,omitempty"`
	// MediaType describes the attachments in Media.
	MediaType MediaType `gorm:"type:text" json:"media_type,omitempty"`
	// IsRead is flipped by the recipient marking the room as read.
	IsRead bool `gorm:"not null;default:false;index" json:"is_read"`
	// CreatedAt is set by the server when the message is stored.
	CreatedAt time.Time `gorm:"index:idx_room_created,priority:2" json:"created_at"`
}

// BeforeCreate assigns the message id.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = idgen.NewULID()
	}
	return
}

// Sender returns the author as a Participant.
func (m *Message) Sender() Participant {
	return Participant{ID: m.SenderID, Role: m.SenderType}
}

// Before reports whether m sorts before o in room order.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
