package chatclient

import (
	"campuschat/backend/internal/chat"
	"campuschat/backend/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// API is the subset of the REST client the Synchronizer uses.
type API interface {
	ListRooms(ctx context.Context) ([]chat.RoomSummary, error)
	Messages(ctx context.Context, roomID string, page, pageSize int) ([]models.Message, error)
	Send(ctx context.Context, roomID, content string) (*models.Message, error)
	MarkRead(ctx context.Context, roomID string) (int64, error)
	TotalUnread(ctx context.Context) (int64, error)
}

// PushConn is the live side. It may be nil, in which case the
// Synchronizer works from polling alone.
type PushConn interface {
	Events() <-chan models.Event
	SendTyping(roomID string, isTyping bool) error
}

type Options struct {
	RoomRefetch     time.Duration
	RoomListRefresh time.Duration
	UnreadRefresh   time.Duration
	// TypingIdle is how long after the last keystroke is_typing=false is sent.
	TypingIdle time.Duration
	// PeerTimeout clears a peer's typing flag that was not refreshed.
	PeerTimeout time.Duration
	PageSize    int
	Logger      *logrus.Logger
	// OnChange is called after any change of local state.
	OnChange func()
}

func (o *Options) setDefaults() {
	if o.RoomRefetch <= 0 {
		o.RoomRefetch = 3 * time.Second
	}
	if o.RoomListRefresh <= 0 {
		o.RoomListRefresh = 5 * time.Second
	}
	if o.UnreadRefresh <= 0 {
		o.UnreadRefresh = 5 * time.Second
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 1500 * time.Millisecond
	}
	if o.PeerTimeout <= 0 {
		o.PeerTimeout = 3 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 30
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Synchronizer keeps a local view of the open room, the room list, the
// unread total, presence and typing flags. Pushed messages are appended
// at once; periodic refetches replace the view wholesale and so repair
// anything push missed.
type Synchronizer struct {
	api  API
	push PushConn
	me   models.Participant
	opts Options
	log  *logrus.Entry
	now  func() time.Time

	mu            sync.Mutex
	roomID        string
	messages      []models.Message
	rooms         []chat.RoomSummary
	unread        int64
	online        map[string]bool
	peerTyping    map[string]time.Time // userID -> flag expiry, open room only
	lastKeystroke time.Time
	typingSent    bool
	typingSeq     uint64

	// wireMu orders typing writes; the socket is never written under mu.
	wireMu  sync.Mutex
	wireSeq uint64
}

// typingSignal is a typing flag decided under mu and written after it is
// released. seq orders signals so a late write never overrides a newer one.
type typingSignal struct {
	roomID   string
	isTyping bool
	seq      uint64
}

func NewSynchronizer(api API, push PushConn, me models.Participant, opts Options) *Synchronizer {
	opts.setDefaults()
	return &Synchronizer{
		api:        api,
		push:       push,
		me:         me,
		opts:       opts,
		log:        opts.Logger.WithFields(logrus.Fields{"component": "sync", "user_id": me.ID}),
		now:        time.Now,
		online:     make(map[string]bool),
		peerTyping: make(map[string]time.Time),
	}
}

func (s *Synchronizer) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

// OpenRoom switches the view to roomID: it loads the newest page,
// replaces the local list and marks the room read.
func (s *Synchronizer) OpenRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	var stop *typingSignal
	if s.roomID != roomID {
		stop = s.stopTypingLocked()
	}
	s.roomID = roomID
	s.messages = nil
	s.peerTyping = make(map[string]time.Time)
	s.mu.Unlock()
	s.sendTyping(stop)

	if err := s.RefreshRoom(ctx); err != nil {
		return err
	}
	if _, err := s.api.MarkRead(ctx, roomID); err != nil {
		s.log.WithError(err).Warn("mark read failed")
	}
	return nil
}

// RefreshRoom refetches the newest page of the open room and replaces the
// local list with it.
func (s *Synchronizer) RefreshRoom(ctx context.Context) error {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return nil
	}

	msgs, err := s.api.Messages(ctx, roomID, 1, s.opts.PageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.roomID != roomID {
		s.mu.Unlock()
		return nil
	}
	s.messages = msgs
	unreadFromPeer := false
	for _, m := range msgs {
		if m.SenderID != s.me.ID && !m.IsRead {
			unreadFromPeer = true
			break
		}
	}
	s.mu.Unlock()
	s.changed()

	if unreadFromPeer {
		if _, err := s.api.MarkRead(ctx, roomID); err != nil {
			s.log.WithError(err).Debug("mark read failed")
		}
	}
	return nil
}

func (s *Synchronizer) RefreshRooms(ctx context.Context) error {
	rooms, err := s.api.ListRooms(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()
	s.changed()
	return nil
}

func (s *Synchronizer) RefreshUnread(ctx context.Context) error {
	n, err := s.api.TotalUnread(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.unread = n
	s.mu.Unlock()
	s.changed()
	return nil
}

// Send posts content to the open room and appends the stored message.
func (s *Synchronizer) Send(ctx context.Context, content string) (*models.Message, error) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return nil, fmt.Errorf("message not sent: no room open")
	}

	msg, err := s.api.Send(ctx, roomID, content)
	if err != nil {
		return nil, fmt.Errorf("message not sent: %w", err)
	}

	s.mu.Lock()
	stop := s.stopTypingLocked()
	if s.roomID == roomID {
		s.appendLocked(*msg)
	}
	s.mu.Unlock()
	s.sendTyping(stop)
	s.changed()
	return msg, nil
}

// appendLocked adds msg unless a message with the same id is present.
func (s *Synchronizer) appendLocked(msg models.Message) bool {
	for _, m := range s.messages {
		if m.ID == msg.ID {
			return false
		}
	}
	s.messages = append(s.messages, msg)
	sort.SliceStable(s.messages, func(i, j int) bool { return s.messages[i].Before(&s.messages[j]) })
	return true
}

// Keystroke tells the peer the user is typing. The stop signal follows
// automatically once the user is idle.
func (s *Synchronizer) Keystroke() {
	s.mu.Lock()
	s.lastKeystroke = s.now()
	if s.typingSent || s.roomID == "" || s.push == nil {
		s.mu.Unlock()
		return
	}
	s.typingSent = true
	start := s.signalLocked(true)
	s.mu.Unlock()

	if !s.sendTyping(start) {
		s.mu.Lock()
		if s.typingSeq == start.seq {
			s.typingSent = false
		}
		s.mu.Unlock()
	}
}

// stopTypingLocked clears the own typing flag and returns the stop signal
// to write, or nil when there is nothing to send.
func (s *Synchronizer) stopTypingLocked() *typingSignal {
	if !s.typingSent {
		return nil
	}
	s.typingSent = false
	if s.push == nil || s.roomID == "" {
		return nil
	}
	return s.signalLocked(false)
}

func (s *Synchronizer) signalLocked(isTyping bool) *typingSignal {
	s.typingSeq++
	return &typingSignal{roomID: s.roomID, isTyping: isTyping, seq: s.typingSeq}
}

// sendTyping writes sig unless a newer signal already went out. It reports
// false only when the write failed.
func (s *Synchronizer) sendTyping(sig *typingSignal) bool {
	if sig == nil {
		return true
	}
	s.wireMu.Lock()
	defer s.wireMu.Unlock()
	if sig.seq <= s.wireSeq {
		return true
	}
	s.wireSeq = sig.seq
	if err := s.push.SendTyping(sig.roomID, sig.isTyping); err != nil {
		s.log.WithError(err).WithField("is_typing", sig.isTyping).Debug("typing signal not sent")
		return false
	}
	return true
}

// tick sends the idle stop signal and drops expired peer flags.
func (s *Synchronizer) tick() {
	s.mu.Lock()
	now := s.now()
	var stop *typingSignal
	if s.typingSent && now.Sub(s.lastKeystroke) >= s.opts.TypingIdle {
		stop = s.stopTypingLocked()
	}
	expired := false
	for id, until := range s.peerTyping {
		if !now.Before(until) {
			delete(s.peerTyping, id)
			expired = true
		}
	}
	s.mu.Unlock()
	s.sendTyping(stop)
	if expired {
		s.changed()
	}
}

// HandleEvent merges one pushed event into local state.
func (s *Synchronizer) HandleEvent(ev models.Event) {
	s.mu.Lock()
	changed := s.applyLocked(ev)
	s.mu.Unlock()
	if changed {
		s.changed()
	}
}

func (s *Synchronizer) applyLocked(ev models.Event) bool {
	switch ev.Type {
	case models.EventReceiveMessage:
		var msg models.Message
		if err := ev.Decode(&msg); err != nil {
			return false
		}
		if msg.RoomID != s.roomID {
			return false
		}
		if msg.SenderID != s.me.ID {
			delete(s.peerTyping, msg.SenderID)
		}
		return s.appendLocked(msg)

	case models.EventOnlineUsers:
		var p models.OnlineUsersPayload
		if err := ev.Decode(&p); err != nil {
			return false
		}
		s.online = make(map[string]bool, len(p.Users))
		for _, id := range p.Users {
			s.online[id] = true
		}
		return true

	case models.EventUserOnline, models.EventUserOffline, models.EventUserStatusUpdate:
		var p models.PresencePayload
		if err := ev.Decode(&p); err != nil {
			return false
		}
		if p.IsOnline {
			s.online[p.UserID] = true
		} else {
			delete(s.online, p.UserID)
		}
		return true

	case models.EventUserTyping:
		var p models.TypingPayload
		if err := ev.Decode(&p); err != nil || p.RoomID != s.roomID {
			return false
		}
		if p.IsTyping {
			s.peerTyping[p.UserID] = s.now().Add(s.opts.PeerTimeout)
		} else {
			delete(s.peerTyping, p.UserID)
		}
		return true

	case models.EventMessagesRead:
		var p models.ReadReceiptPayload
		if err := ev.Decode(&p); err != nil || p.RoomID != s.roomID {
			return false
		}
		for i := range s.messages {
			if s.messages[i].SenderID == s.me.ID {
				s.messages[i].IsRead = true
			}
		}
		return true

	case models.EventError:
		var p models.ErrorPayload
		_ = ev.Decode(&p)
		s.log.WithField("event", p.Type).Warn(p.Message)
	}
	return false
}

// Run drives the refresh timers and consumes push events until ctx is
// canceled.
func (s *Synchronizer) Run(ctx context.Context) {
	roomT := time.NewTicker(s.opts.RoomRefetch)
	listT := time.NewTicker(s.opts.RoomListRefresh)
	unreadT := time.NewTicker(s.opts.UnreadRefresh)
	typingT := time.NewTicker(s.tickInterval())
	defer func() {
		roomT.Stop()
		listT.Stop()
		unreadT.Stop()
		typingT.Stop()
	}()

	var events <-chan models.Event
	if s.push != nil {
		events = s.push.Events()
	}

	s.refresh(ctx, s.RefreshRooms, "room list")
	s.refresh(ctx, s.RefreshUnread, "unread")

	for {
		select {
		case <-ctx.Done():
			return
		case <-roomT.C:
			s.refresh(ctx, s.RefreshRoom, "room")
		case <-listT.C:
			s.refresh(ctx, s.RefreshRooms, "room list")
		case <-unreadT.C:
			s.refresh(ctx, s.RefreshUnread, "unread")
		case <-typingT.C:
			s.tick()
		case ev, ok := <-events:
			if !ok {
				// Push is gone; polling keeps the view correct.
				s.log.Info("push closed, polling only")
				events = nil
				continue
			}
			s.HandleEvent(ev)
		}
	}
}

func (s *Synchronizer) tickInterval() time.Duration {
	d := s.opts.TypingIdle
	if s.opts.PeerTimeout < d {
		d = s.opts.PeerTimeout
	}
	d /= 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

func (s *Synchronizer) refresh(ctx context.Context, fn func(context.Context) error, what string) {
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		s.log.WithError(err).WithField("refresh", what).Warn("refresh failed")
	}
}

// Messages returns a copy of the open room's view.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Synchronizer) Rooms() []chat.RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.RoomSummary, len(s.rooms))
	copy(out, s.rooms)
	return out
}

func (s *Synchronizer) Unread() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *Synchronizer) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Synchronizer) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

// PeerTyping reports whether userID is typing in the open room.
func (s *Synchronizer) PeerTyping(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.peerTyping[userID]
	return ok && s.now().Before(until)
}
