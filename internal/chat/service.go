// Package chat owns the room and message semantics: resolving the single
// room of a pair, appending and paging messages, read state and blocks.
// Live delivery is delegated to a Notifier.
package chat

import (
	"campuschat/backend/internal/config"
	"campuschat/backend/internal/models"
	"campuschat/backend/internal/profile"
	"campuschat/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// resolveAttempts bounds how often GetOrCreateRoom re-queries after losing a
// creation race.
const resolveAttempts = 3

// Notifier receives the events that must reach live connections.
type Notifier interface {
	// MessageCreated is called after a message was stored. The sender is
	// always echoed; the recipient only when pushToRecipient is set.
	MessageCreated(ctx context.Context, msg models.Message, recipient models.Participant, pushToRecipient bool)
	// MessagesRead is called when reader flipped count messages in room.
	MessagesRead(ctx context.Context, room models.ChatRoom, reader models.Participant, count int64, at time.Time)
}

type nopNotifier struct{}

func (nopNotifier) MessageCreated(context.Context, models.Message, models.Participant, bool) {}
func (nopNotifier) MessagesRead(context.Context, models.ChatRoom, models.Participant, int64, time.Time) {
}

// SendInput is a message as submitted by a client.
type SendInput struct {
	RoomID    string
	Sender    models.Participant
	Content   string
	Media     []string
	MediaType models.MediaType
}

// RoomSummary is a room as listed for one of its participants.
type RoomSummary struct {
	Room        models.ChatRoom    `json:"room"`
	Other       models.Participant `json:"other"`
	Profile     profile.Profile    `json:"profile"`
	UnreadCount int64              `json:"unread_count"`
	LastMessage *models.Message    `json:"last_message,omitempty"`
}

type Service struct {
	store        storage.Storage
	profiles     profile.Directory
	notifier     Notifier
	cfg          config.ChatConfig
	queryTimeout time.Duration
	log          *logrus.Entry
}

func NewService(store storage.Storage, profiles profile.Directory, cfg config.ChatConfig, queryTimeout time.Duration, logger *logrus.Logger) *Service {
	if profiles == nil {
		profiles = profile.NewStaticDirectory()
	}
	return &Service{
		store:        store,
		profiles:     profiles,
		notifier:     nopNotifier{},
		cfg:          cfg,
		queryTimeout: queryTimeout,
		log:          logger.WithField("component", "chat"),
	}
}

// SetNotifier installs the live delivery sink. It must be called before
// the service handles requests.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// Config exposes the chat settings to transports.
func (s *Service) Config() config.ChatConfig { return s.cfg }

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func persistence(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// GetOrCreateRoom returns the room of the unordered pair {a, b}, creating it
// with a as User1 when none exists yet.
func (s *Service) GetOrCreateRoom(ctx context.Context, a, b models.Participant) (*models.ChatRoom, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if a.ID == b.ID {
		return nil, validation("cannot open a room with yourself")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 1; attempt <= resolveAttempts; attempt++ {
		room, err := s.store.FindRoomByPair(ctx, a, b)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, persistence(err)
		}

		room = models.NewChatRoom(a, b)
		err = s.store.CreateRoom(ctx, room)
		if err == nil {
			s.log.WithFields(logrus.Fields{"room_id": room.ID, "user1": a.Key(), "user2": b.Key()}).Info("room created")
			return room, nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return nil, persistence(err)
		}
		s.log.WithField("attempt", attempt).Debug("lost room creation race, re-querying")
	}
	return nil, persistence(errors.New("room could not be resolved after concurrent creation"))
}

// GetRoom loads a room without any membership check.
func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.getRoom(ctx, roomID)
}

func (s *Service) getRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, validation("room id is required")
	}
	room, err := s.store.GetRoomByID(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, persistence(err)
	}
	return room, nil
}

// memberRoom loads a room and checks that p belongs to it.
func (s *Service) memberRoom(ctx context.Context, roomID string, p models.Participant) (*models.ChatRoom, error) {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(p) {
		return nil, ErrNotParticipant
	}
	return room, nil
}

func (s *Service) validateSend(in SendInput) error {
	if err := in.Sender.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !in.MediaType.Valid() {
		return validation("unknown media type %q", in.MediaType)
	}
	if strings.TrimSpace(in.Content) == "" && len(in.Media) == 0 {
		return validation("message has no content")
	}
	if len(in.Media) > 0 && in.MediaType == models.MediaNone {
		return validation("media requires a media type")
	}
	if limit := s.cfg.MaxMessageLength; limit > 0 && len([]rune(in.Content)) > limit {
		return validation("message longer than %d characters", limit)
	}
	return nil
}

// SendMessage stores a message and hands it to the notifier. A store
// failure means the message does not exist; a delivery failure never fails
// the call.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*models.Message, error) {
	if err := s.validateSend(in); err != nil {
		return nil, err
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	room, err := s.memberRoom(sctx, in.RoomID, in.Sender)
	if err != nil {
		return nil, err
	}
	recipient, _ := room.Other(in.Sender)

	blocked, err := s.store.IsBlocked(sctx, recipient.ID, in.Sender.ID)
	if err != nil {
		return nil, persistence(err)
	}
	if blocked && s.cfg.BlockPolicy == config.BlockHard {
		return nil, ErrBlocked
	}

	msg := &models.Message{
		RoomID:     room.ID,
		SenderID:   in.Sender.ID,
		SenderType: in.Sender.Role,
		Content:    in.Content,
		Media:      in.Media,
		MediaType:  in.MediaType,
	}
	if err := s.store.AppendMessage(sctx, msg); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, persistence(err)
	}

	s.notifier.MessageCreated(ctx, *msg, recipient, !blocked)
	return msg, nil
}

// PageBounds clamps a requested page and page size.
func (s *Service) PageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if s.cfg.MaxPageSize > 0 && pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	if pageSize < 1 {
		pageSize = 1
	}
	return page, pageSize
}

// ListMessages returns page (1-based, newest first) of the room's history.
// Messages inside a page are in chronological order.
func (s *Service) ListMessages(ctx context.Context, roomID string, requester models.Participant, page, pageSize int) ([]models.Message, error) {
	page, pageSize = s.PageBounds(page, pageSize)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.memberRoom(ctx, roomID, requester); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, roomID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, persistence(err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// MarkRead flips every unread message the reader received in the room and
// returns how many changed.
func (s *Service) MarkRead(ctx context.Context, roomID string, reader models.Participant) (int64, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	room, err := s.memberRoom(sctx, roomID, reader)
	if err != nil {
		return 0, err
	}
	n, err := s.store.MarkRead(sctx, roomID, reader.ID)
	if err != nil {
		return 0, persistence(err)
	}
	if n > 0 {
		s.notifier.MessagesRead(ctx, *room, reader, n, time.Now())
	}
	return n, nil
}

func (s *Service) UnreadCountForRoom(ctx context.Context, roomID string, user models.Participant) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.memberRoom(ctx, roomID, user); err != nil {
		return 0, err
	}
	n, err := s.store.UnreadCountForRoom(ctx, roomID, user.ID)
	if err != nil {
		return 0, persistence(err)
	}
	return n, nil
}

func (s *Service) TotalUnreadCount(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, validation("user id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.store.TotalUnreadCount(ctx, userID)
	if err != nil {
		return 0, persistence(err)
	}
	return n, nil
}

// ListRooms returns the user's rooms, most recently active first.
func (s *Service) ListRooms(ctx context.Context, user models.Participant) ([]RoomSummary, error) {
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rooms, err := s.store.ListRoomsForUser(ctx, user.ID)
	if err != nil {
		return nil, persistence(err)
	}
	unread, err := s.store.UnreadCountsByRoom(ctx, user.ID)
	if err != nil {
		return nil, persistence(err)
	}
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	last, err := s.store.LastMessages(ctx, ids)
	if err != nil {
		return nil, persistence(err)
	}

	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		other, ok := r.Other(user)
		if !ok {
			// Same id under another role; match by id instead.
			if r.User1ID == user.ID {
				other = r.User2()
			} else {
				other = r.User1()
			}
		}
		sum := RoomSummary{
			Room:        r,
			Other:       other,
			Profile:     s.lookupProfile(ctx, other),
			UnreadCount: unread[r.ID],
		}
		if m, ok := last[r.ID]; ok {
			m := m
			sum.LastMessage = &m
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) lookupProfile(ctx context.Context, p models.Participant) profile.Profile {
	prof, err := s.profiles.Lookup(ctx, p)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			s.log.WithError(err).WithField("user_id", p.ID).Warn("profile lookup failed")
		}
		return profile.Fallback(p)
	}
	return prof
}

// DeleteRoom removes the room and its messages. Only participants may do
// this.
func (s *Service) DeleteRoom(ctx context.Context, roomID string, requester models.Participant) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.memberRoom(ctx, roomID, requester); err != nil {
		return err
	}
	return s.deleteRoom(ctx, roomID)
}

// ForceDeleteRoom removes a room regardless of membership. It backs the
// operator tooling.
func (s *Service) ForceDeleteRoom(ctx context.Context, roomID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.deleteRoom(ctx, roomID)
}

func (s *Service) deleteRoom(ctx context.Context, roomID string) error {
	err := s.store.DeleteRoom(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return persistence(err)
	}
	s.log.WithField("room_id", roomID).Info("room deleted")
	return nil
}

func (s *Service) Block(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == "" || blockedID == "" {
		return validation("both user ids are required")
	}
	if blockerID == blockedID {
		return validation("cannot block yourself")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.Block(ctx, blockerID, blockedID); err != nil {
		return persistence(err)
	}
	return nil
}

// Unblock returns storage.ErrNotFound when no such block exists.
func (s *Service) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == "" || blockedID == "" {
		return validation("both user ids are required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.store.Unblock(ctx, blockerID, blockedID)
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err != nil {
		return persistence(err)
	}
	return nil
}

func (s *Service) ListBlocked(ctx context.Context, blockerID string) ([]models.BlockRelation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rels, err := s.store.ListBlocked(ctx, blockerID)
	if err != nil {
		return nil, persistence(err)
	}
	if rels == nil {
		rels = []models.BlockRelation{}
	}
	return rels, nil
}

// CanPush reports whether live events from fromID may reach toID.
func (s *Service) CanPush(ctx context.Context, fromID, toID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	blocked, err := s.store.IsBlocked(ctx, toID, fromID)
	if err != nil {
		return false, persistence(err)
	}
	return !blocked, nil
}
