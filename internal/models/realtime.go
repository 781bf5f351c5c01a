package models

import (
	"encoding/json"
	"time"
)

// EventType names a frame on the push channel.
type EventType string

// Server → client.
const (
	EventReceiveMessage   EventType = "receiveMessage"
	EventUserTyping       EventType = "userTyping"
	EventUserOnline       EventType = "userOnline"
	EventUserOffline      EventType = "userOffline"
	EventUserStatusUpdate EventType = "userStatusUpdate"
	EventOnlineUsers      EventType = "onlineUsers"
	EventMessagesRead     EventType = "messagesRead"
	EventError            EventType = "error"
)

// Client → server.
const (
	EventSendMessage EventType = "sendMessage"
	EventTyping      EventType = "typing"
	EventCheckStatus EventType = "checkStatus"
	EventMarkRead    EventType = "markRead"
)

// Event is the envelope of every push frame. Payload holds one of the
// payload types below, selected by Type.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent encodes payload into an Event of the given type.
func NewEvent(t EventType, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Payload: raw}, nil
}

// MustEvent is NewEvent for payloads that always encode.
func MustEvent(t EventType, payload any) Event {
	ev, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), dst)
	}
	return json.Unmarshal(e.Payload, dst)
}

// SendMessagePayload is sent by a client to post into a room.
type SendMessagePayload struct {
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content"`
	Media     []string  `json:"media,omitempty"`
	MediaType MediaType `json:"media_type,omitempty"`
}

// TypingPayload is both the inbound "typing" and the outbound "userTyping".
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id,omitempty"`
	UserType Role   `json:"user_type,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// PresencePayload describes one user's online flag.
type PresencePayload struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// OnlineUsersPayload is the snapshot sent right after connecting.
type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

// CheckStatusPayload asks for one user's presence.
type CheckStatusPayload struct {
	UserID string `json:"user_id"`
}

// MarkReadPayload asks the server to mark a room read.
type MarkReadPayload struct {
	RoomID string `json:"room_id"`
}

// ReadReceiptPayload tells the sender that the peer read their messages.
type ReadReceiptPayload struct {
	RoomID   string    `json:"room_id"`
	ReaderID string    `json:"reader_id"`
	Count    int64     `json:"count"`
	ReadAt   time.Time `json:"read_at"`
}

// ErrorPayload reports a failed inbound event back to its connection.
type ErrorPayload struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}
