// Package chathub is the live delivery layer: it tracks push connections
// and presence, relays typing indicators and fans chat events out to the
// connections of their recipients.
package chathub

import (
	"campuschat/backend/internal/chat"
	"campuschat/backend/internal/models"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ChatService is the part of the chat service driven by inbound events.
type ChatService interface {
	RoomLookup
	SendMessage(ctx context.Context, in chat.SendInput) (*models.Message, error)
	MarkRead(ctx context.Context, roomID string, reader models.Participant) (int64, error)
}

// Inbound is an event read from a client connection.
type Inbound struct {
	Client Client
	Event  models.Event
}

// presenceOp is a registry change to apply to global presence. first and
// last are decided on the Run loop, where the registry is mutated.
type presenceOp struct {
	client  Client
	connect bool
	first   bool
	last    bool
}

// inbox holds the pending events of one connection. A single drain
// goroutine runs while it is non-empty.
type inbox struct {
	pending []Inbound
	running bool
}

// ManagerService owns the registry of live connections. Register and
// unregister are serialized through its Run loop; everything that touches
// the store or Redis runs off the loop. Inbound events keep their per
// connection order.
type ManagerService struct {
	Registry    *Registry
	Presence    Presence
	Broadcaster *Broadcaster
	Typing      *TypingCoordinator

	RegisterCh   chan Client
	UnregisterCh chan Client
	IncomingCh   chan Inbound

	chat         ChatService
	fanout       Fanout
	presenceMu   sync.Mutex
	presenceQ    []presenceOp
	presenceWake chan struct{}
	inboxMu      sync.Mutex
	inboxes      map[string]*inbox
	done         chan struct{}
	log          *logrus.Entry
}

func NewManagerService(svc ChatService, presence Presence, fanout Fanout, typingTTL time.Duration, logger *logrus.Logger) *ManagerService {
	b := NewBroadcaster(fanout, logger)
	return &ManagerService{
		Registry:     NewRegistry(),
		Presence:     presence,
		Broadcaster:  b,
		Typing:       NewTypingCoordinator(svc, b, typingTTL, logger),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		IncomingCh:   make(chan Inbound, 64),
		chat:         svc,
		fanout:       fanout,
		presenceWake: make(chan struct{}, 1),
		inboxes:      make(map[string]*inbox),
		done:         make(chan struct{}),
		log:          logger.WithField("component", "hub"),
	}
}

// Run processes registrations and inbound events until ctx is canceled.
func (m *ManagerService) Run(ctx context.Context) error {
	if err := m.fanout.Start(ctx, m.deliverLocal); err != nil {
		close(m.done)
		return err
	}
	go m.presenceLoop(ctx)

	defer func() {
		close(m.done)
		m.Typing.Stop()
		// Release this node's share of global presence.
		cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, id := range m.Registry.Users() {
			if _, err := m.Presence.Disconnect(cleanup, id); err != nil {
				m.log.WithError(err).WithField("user_id", id).Warn("presence release failed")
			}
		}
		for _, c := range m.Registry.All() {
			c.Close()
		}
		if err := m.fanout.Close(); err != nil {
			m.log.WithError(err).Warn("fanout close failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-m.RegisterCh:
			first := m.Registry.Add(c)
			m.log.WithFields(logrus.Fields{"user_id": c.GetUserID(), "conn_id": c.GetConnID()}).Info("client registered")
			m.queuePresence(presenceOp{client: c, connect: true, first: first})

		case c := <-m.UnregisterCh:
			removed, last := m.Registry.Remove(c)
			c.Close()
			if !removed {
				continue
			}
			m.log.WithFields(logrus.Fields{"user_id": c.GetUserID(), "conn_id": c.GetConnID()}).Info("client unregistered")
			m.queuePresence(presenceOp{client: c, last: last})

		case in := <-m.IncomingCh:
			m.enqueue(ctx, in)
		}
	}
}

// Done is closed once Run has returned.
func (m *ManagerService) Done() <-chan struct{} { return m.done }

// Register hands c to the Run loop. It returns false when the hub stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

func (m *ManagerService) Dispatch(in Inbound) {
	select {
	case m.IncomingCh <- in:
	case <-m.done:
	}
}

// queuePresence never blocks the Run loop.
func (m *ManagerService) queuePresence(op presenceOp) {
	m.presenceMu.Lock()
	m.presenceQ = append(m.presenceQ, op)
	m.presenceMu.Unlock()
	select {
	case m.presenceWake <- struct{}{}:
	default:
	}
}

// enqueue queues the event behind earlier events of the same connection.
// Each connection is drained one event at a time in read order; different
// connections run concurrently.
func (m *ManagerService) enqueue(ctx context.Context, in Inbound) {
	key := in.Client.GetConnID()
	m.inboxMu.Lock()
	defer m.inboxMu.Unlock()
	box, ok := m.inboxes[key]
	if !ok {
		box = &inbox{}
		m.inboxes[key] = box
	}
	box.pending = append(box.pending, in)
	if !box.running {
		box.running = true
		go m.drainInbox(ctx, key, box)
	}
}

func (m *ManagerService) drainInbox(ctx context.Context, key string, box *inbox) {
	for {
		m.inboxMu.Lock()
		if len(box.pending) == 0 {
			box.running = false
			delete(m.inboxes, key)
			m.inboxMu.Unlock()
			return
		}
		in := box.pending[0]
		box.pending = box.pending[1:]
		m.inboxMu.Unlock()

		m.handleInbound(ctx, in)
	}
}

// presenceLoop applies presence changes in registration order.
func (m *ManagerService) presenceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.presenceWake:
		}
		m.presenceMu.Lock()
		ops := m.presenceQ
		m.presenceQ = nil
		m.presenceMu.Unlock()
		for _, op := range ops {
			m.applyPresence(ctx, op)
		}
	}
}

func (m *ManagerService) applyPresence(ctx context.Context, op presenceOp) {
	userID := op.client.GetUserID()

	if !op.connect {
		if op.last {
			m.transition(ctx, userID, false)
		}
		return
	}

	if op.first {
		m.transition(ctx, userID, true)
	}
	online, err := m.Presence.Online(ctx)
	if err != nil {
		m.log.WithError(err).WithField("user_id", userID).Warn("presence snapshot failed")
		online = m.Registry.Users()
	}
	if online == nil {
		online = []string{}
	}
	m.push(op.client, models.MustEvent(models.EventOnlineUsers, models.OnlineUsersPayload{Users: online}))
}

// transition updates global presence and announces a state change.
func (m *ManagerService) transition(ctx context.Context, userID string, online bool) {
	var (
		changed bool
		err     error
	)
	if online {
		changed, err = m.Presence.Connect(ctx, userID)
	} else {
		changed, err = m.Presence.Disconnect(ctx, userID)
	}
	if err != nil {
		m.log.WithError(err).WithField("user_id", userID).Warn("presence update failed")
		return
	}
	if !changed {
		return
	}
	typ := models.EventUserOffline
	if online {
		typ = models.EventUserOnline
	}
	ev := models.MustEvent(typ, models.PresencePayload{UserID: userID, IsOnline: online})
	if err := m.Broadcaster.Broadcast(ctx, ev); err != nil {
		m.log.WithError(err).Warn("presence broadcast failed")
	}
}

// deliverLocal hands an envelope to the matching local connections.
func (m *ManagerService) deliverLocal(env Envelope) {
	var targets []Client
	if env.Targets == nil {
		targets = m.Registry.All()
	} else {
		seen := make(map[string]struct{}, len(env.Targets))
		for _, id := range env.Targets {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, m.Registry.Connections(id)...)
		}
	}
	for _, c := range targets {
		m.push(c, env.Event)
	}
}

// push sends to one connection. A connection that cannot take the event is
// closed; its read pump then unregisters it.
func (m *ManagerService) push(c Client, ev models.Event) {
	if err := c.Send(ev); err != nil {
		if !errors.Is(err, ErrClientClosed) {
			m.log.WithError(err).WithFields(logrus.Fields{"user_id": c.GetUserID(), "conn_id": c.GetConnID()}).Warn("dropping slow connection")
		}
		c.Close()
	}
}

func (m *ManagerService) reply(c Client, failed models.EventType, err error) {
	m.push(c, models.MustEvent(models.EventError, models.ErrorPayload{Type: failed, Message: err.Error()}))
}

func (m *ManagerService) handleInbound(ctx context.Context, in Inbound) {
	c := in.Client
	sender := participantOf(c)
	log := m.log.WithFields(logrus.Fields{"user_id": sender.ID, "conn_id": c.GetConnID(), "event": in.Event.Type})

	switch in.Event.Type {
	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := in.Event.Decode(&p); err != nil {
			m.reply(c, in.Event.Type, err)
			return
		}
		_, err := m.chat.SendMessage(ctx, chat.SendInput{
			RoomID:    p.RoomID,
			Sender:    sender,
			Content:   p.Content,
			Media:     p.Media,
			MediaType: p.MediaType,
		})
		if err != nil {
			log.WithError(err).Info("message not sent")
			m.reply(c, in.Event.Type, err)
		}

	case models.EventTyping:
		var p models.TypingPayload
		if err := in.Event.Decode(&p); err != nil {
			log.WithError(err).Debug("bad typing payload")
			return
		}
		if err := m.Typing.SetTyping(ctx, p.RoomID, sender, p.IsTyping); err != nil {
			log.WithError(err).Debug("typing not relayed")
		}

	case models.EventCheckStatus:
		var p models.CheckStatusPayload
		if err := in.Event.Decode(&p); err != nil || p.UserID == "" {
			m.reply(c, in.Event.Type, errors.New("user_id is required"))
			return
		}
		online, err := m.Presence.IsOnline(ctx, p.UserID)
		if err != nil {
			log.WithError(err).Warn("presence lookup failed")
			online = m.Registry.IsConnected(p.UserID)
		}
		m.push(c, models.MustEvent(models.EventUserStatusUpdate, models.PresencePayload{UserID: p.UserID, IsOnline: online}))

	case models.EventMarkRead:
		var p models.MarkReadPayload
		if err := in.Event.Decode(&p); err != nil {
			m.reply(c, in.Event.Type, err)
			return
		}
		if _, err := m.chat.MarkRead(ctx, p.RoomID, sender); err != nil {
			m.reply(c, in.Event.Type, err)
		}

	default:
		m.reply(c, in.Event.Type, errors.New("unknown event type"))
	}
}
