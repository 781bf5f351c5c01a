package models

import (
	"campuschat/backend/internal/idgen"
	"time"

	"gorm.io/gorm"
)

// ChatRoom is the durable one-to-one conversation between two participants.
// The participants are stored in the order supplied on first contact.
type ChatRoom struct {
	// ID is the unique identifier of the room (UUID).
	ID string `gorm:"primaryKey;type:text" json:"id"`
	// User1ID and User1Type identify the participant that opened the room.
	User1ID   string `gorm:"type:text;not null;index:idx_room_user1" json:"user1_id"`
	User1Type Role   `gorm:"type:text;not null;index:idx_room_user1" json:"user1_type"`
	// User2ID and User2Type identify the other participant.
	User2ID   string `gorm:"type:text;not null;index:idx_room_user2" json:"user2_id"`
	User2Type Role   `gorm:"type:text;not null;index:idx_room_user2" json:"user2_type"`
	// PairKey is the order-independent key of both participants.
	PairKey string `gorm:"type:text;not null;uniqueIndex" json:"-"`
	// LastActivityAt is bumped every time a message is appended.
	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Messages []Message `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

// NewChatRoom builds an unsaved room for the pair in the given order.
func NewChatRoom(a, b Participant) *ChatRoom {
	return &ChatRoom{
		User1ID:   a.ID,
		User1Type: a.Role,
		User2ID:   b.ID,
		User2Type: b.Role,
		PairKey:   PairKey(a, b),
	}
}

// BeforeCreate generates the room id and fills the derived columns.
func (r *ChatRoom) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = idgen.NewRoomID()
	}
	if r.PairKey == "" {
		r.PairKey = PairKey(r.User1(), r.User2())
	}
	if r.LastActivityAt.IsZero() {
		r.LastActivityAt = time.Now()
	}
	return
}

func (r *ChatRoom) User1() Participant { return Participant{ID: r.User1ID, Role: r.User1Type} }
func (r *ChatRoom) User2() Participant { return Participant{ID: r.User2ID, Role: r.User2Type} }

// HasParticipant reports whether p is one of the two room members.
func (r *ChatRoom) HasParticipant(p Participant) bool {
	return r.User1().Equal(p) || r.User2().Equal(p)
}

// HasUser is like HasParticipant but matches on the user id only.
func (r *ChatRoom) HasUser(userID string) bool {
	return r.User1ID == userID || r.User2ID == userID
}

// Other returns the member that is not p. ok is false when p is not a member.
func (r *ChatRoom) Other(p Participant) (other Participant, ok bool) {
	switch {
	case r.User1().Equal(p):
		return r.User2(), true
	case r.User2().Equal(p):
		return r.User1(), true
	}
	return Participant{}, false
}
