package chathub

import (
	"campuschat/backend/internal/chat"
	"campuschat/backend/internal/models"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RoomLookup is what the typing coordinator needs from the chat service.
type RoomLookup interface {
	GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error)
	CanPush(ctx context.Context, fromID, toID string) (bool, error)
}

const typingShards = 16

// TypingCoordinator relays typing indicators to the other participant of
// a room. With a positive ttl it also clears flags that are not refreshed.
type TypingCoordinator struct {
	rooms RoomLookup
	out   *Broadcaster
	ttl   time.Duration
	log   *logrus.Entry

	shards [typingShards]*typingShard
}

type typingShard struct {
	mu     sync.Mutex
	timers map[string]*time.Timer // roomID|userID
}

func NewTypingCoordinator(rooms RoomLookup, out *Broadcaster, ttl time.Duration, logger *logrus.Logger) *TypingCoordinator {
	t := &TypingCoordinator{
		rooms: rooms,
		out:   out,
		ttl:   ttl,
		log:   logger.WithField("component", "typing"),
	}
	for i := range t.shards {
		t.shards[i] = &typingShard{timers: make(map[string]*time.Timer)}
	}
	return t
}

// SetTyping records that user started or stopped typing in roomID.
// It returns chat.ErrNotParticipant for users outside the room.
func (t *TypingCoordinator) SetTyping(ctx context.Context, roomID string, user models.Participant, isTyping bool) error {
	room, err := t.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	peer, ok := room.Other(user)
	if !ok {
		t.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": user.ID}).Debug("typing from non-participant ignored")
		return chat.ErrNotParticipant
	}

	if t.ttl > 0 {
		if isTyping {
			t.arm(roomID, user, peer.ID)
		} else {
			t.disarm(roomID, user.ID)
		}
	}
	return t.emit(ctx, roomID, user, peer.ID, isTyping)
}

func (t *TypingCoordinator) emit(ctx context.Context, roomID string, user models.Participant, peerID string, isTyping bool) error {
	ok, err := t.rooms.CanPush(ctx, user.ID, peerID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	ev := models.MustEvent(models.EventUserTyping, models.TypingPayload{
		RoomID:   roomID,
		UserID:   user.ID,
		UserType: user.Role,
		IsTyping: isTyping,
	})
	return t.out.SendTo(ctx, ev, peerID)
}

func typingKey(roomID, userID string) string { return roomID + "|" + userID }

func (t *TypingCoordinator) shard(key string) *typingShard {
	return t.shards[shardIndex(key, typingShards)]
}

// arm starts or restarts the expiry timer of the flag.
func (t *TypingCoordinator) arm(roomID string, user models.Participant, peerID string) {
	key := typingKey(roomID, user.ID)
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[key]; ok {
		timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.ttl, func() {
		s.mu.Lock()
		if s.timers[key] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		if err := t.emit(context.Background(), roomID, user, peerID, false); err != nil {
			t.log.WithError(err).WithField("room_id", roomID).Warn("typing expiry push failed")
		}
	})
	s.timers[key] = timer
}

func (t *TypingCoordinator) disarm(roomID, userID string) {
	key := typingKey(roomID, userID)
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
}

// Active reports whether a server-side flag is pending for user in room.
func (t *TypingCoordinator) Active(roomID, userID string) bool {
	key := typingKey(roomID, userID)
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Stop cancels every pending expiry.
func (t *TypingCoordinator) Stop() {
	for _, s := range t.shards {
		s.mu.Lock()
		for key, timer := range s.timers {
			timer.Stop()
			delete(s.timers, key)
		}
		s.mu.Unlock()
	}
}
