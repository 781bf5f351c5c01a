package chathub_test

import (
	"campuschat/backend/internal/chat"
	"campuschat/backend/internal/chathub"
	"campuschat/backend/internal/config"
	"campuschat/backend/internal/models"
	"campuschat/backend/internal/storage"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = time.Second

var (
	student   = models.Participant{ID: "s-1", Role: models.RoleStudent}
	professor = models.Participant{ID: "p-1", Role: models.RoleProfessor}
	business  = models.Participant{ID: "b-1", Role: models.RoleBusiness}
)

type hubFixture struct {
	hub *chathub.ManagerService
	svc *chat.Service
}

func newHub(t *testing.T, typingTTL time.Duration, policy config.BlockPolicy) *hubFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	svc := chat.NewService(storage.NewMemoryStore(), nil, config.ChatConfig{
		DefaultPageSize:  30,
		MaxPageSize:      100,
		MaxMessageLength: 1000,
		BlockPolicy:      policy,
	}, time.Second, logger)
	hub := chathub.NewManagerService(svc, chathub.NewMemoryPresence(), chathub.NewLocalFanout(), typingTTL, logger)
	svc.SetNotifier(hub.Broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return &hubFixture{hub: hub, svc: svc}
}

// connect registers a client and waits for its presence snapshot.
func (f *hubFixture) connect(t *testing.T, p models.Participant, connID string) (*MockClient, models.OnlineUsersPayload) {
	t.Helper()
	c := newMockClient(p, connID)
	require.True(t, f.hub.Register(c))
	ev, ok := c.next(models.EventOnlineUsers, wait)
	require.True(t, ok, "no snapshot for %s", p.ID)
	var snap models.OnlineUsersPayload
	require.NoError(t, ev.Decode(&snap))
	c.drain()
	return c, snap
}

func (f *hubFixture) room(t *testing.T, a, b models.Participant) *models.ChatRoom {
	t.Helper()
	room, err := f.svc.GetOrCreateRoom(context.Background(), a, b)
	require.NoError(t, err)
	return room
}

func TestManager_PresenceSnapshotAndTransitions(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)

	a, snap := f.connect(t, student, "a")
	assert.Equal(t, []string{student.ID}, snap.Users)

	b, snap := f.connect(t, professor, "b")
	assert.ElementsMatch(t, []string{student.ID, professor.ID}, snap.Users)

	ev, ok := a.next(models.EventUserOnline, wait)
	require.True(t, ok)
	var p models.PresencePayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, professor.ID, p.UserID)
	assert.True(t, p.IsOnline)

	f.hub.Unregister(b)
	ev, ok = a.next(models.EventUserOffline, wait)
	require.True(t, ok)
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, professor.ID, p.UserID)
	assert.False(t, p.IsOnline)
	assert.True(t, b.IsClosed())
}

func TestManager_SecondTabDoesNotFlipPresence(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	watcher, _ := f.connect(t, business, "w")
	tab1, _ := f.connect(t, student, "tab1")
	_, _ = watcher.next(models.EventUserOnline, wait)

	tab2, _ := f.connect(t, student, "tab2")
	f.hub.Unregister(tab1)

	_, gotOffline := watcher.next(models.EventUserOffline, 200*time.Millisecond)
	assert.False(t, gotOffline, "user still has a live tab")

	f.hub.Unregister(tab2)
	_, gotOffline = watcher.next(models.EventUserOffline, wait)
	assert.True(t, gotOffline)
}

func TestManager_SendMessagePushesToRecipientAndEchoesSender(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	room := f.room(t, student, professor)
	sender, _ := f.connect(t, student, "s")
	senderTab2, _ := f.connect(t, student, "s2")
	recipient, _ := f.connect(t, professor, "p")

	f.hub.Dispatch(chathub.Inbound{
		Client: sender,
		Event:  models.MustEvent(models.EventSendMessage, models.SendMessagePayload{RoomID: room.ID, Content: "office hours?"}),
	})

	for _, c := range []*MockClient{recipient, sender, senderTab2} {
		ev, ok := c.next(models.EventReceiveMessage, wait)
		require.True(t, ok, "conn %s got nothing", c.GetConnID())
		var msg models.Message
		require.NoError(t, ev.Decode(&msg))
		assert.Equal(t, "office hours?", msg.Content)
		assert.Equal(t, student.ID, msg.SenderID)
	}
}

func TestManager_OfflineRecipientReadsByPolling(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	room := f.room(t, student, professor)
	sender, _ := f.connect(t, student, "s")

	f.hub.Dispatch(chathub.Inbound{
		Client: sender,
		Event:  models.MustEvent(models.EventSendMessage, models.SendMessagePayload{RoomID: room.ID, Content: "hello"}),
	})
	_, ok := sender.next(models.EventReceiveMessage, wait)
	require.True(t, ok)

	msgs, err := f.svc.ListMessages(context.Background(), room.ID, professor, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestManager_SoftBlockSuppressesPushUntilUnblocked(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	ctx := context.Background()
	room := f.room(t, student, professor)
	require.NoError(t, f.svc.Block(ctx, professor.ID, student.ID))
	sender, _ := f.connect(t, student, "s")
	blocker, _ := f.connect(t, professor, "p")

	send := func(content string) {
		f.hub.Dispatch(chathub.Inbound{
			Client: sender,
			Event:  models.MustEvent(models.EventSendMessage, models.SendMessagePayload{RoomID: room.ID, Content: content}),
		})
		_, echoed := sender.next(models.EventReceiveMessage, wait)
		require.True(t, echoed)
	}

	send("please")
	_, pushed := blocker.next(models.EventReceiveMessage, 200*time.Millisecond)
	assert.False(t, pushed)

	require.NoError(t, f.svc.Unblock(ctx, professor.ID, student.ID))
	send("sorry")
	ev, pushed := blocker.next(models.EventReceiveMessage, wait)
	require.True(t, pushed, "push not restored after unblock")
	var msg models.Message
	require.NoError(t, ev.Decode(&msg))
	assert.Equal(t, "sorry", msg.Content)

	msgs, err := f.svc.ListMessages(ctx, room.ID, professor, 1, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestManager_InvalidSendRepliesWithError(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	room := f.room(t, student, professor)
	outsider, _ := f.connect(t, business, "x")

	f.hub.Dispatch(chathub.Inbound{
		Client: outsider,
		Event:  models.MustEvent(models.EventSendMessage, models.SendMessagePayload{RoomID: room.ID, Content: "hi"}),
	})

	ev, ok := outsider.next(models.EventError, wait)
	require.True(t, ok)
	var p models.ErrorPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, models.EventSendMessage, p.Type)
	assert.Contains(t, p.Message, chat.ErrNotParticipant.Error())
}

func TestManager_TypingGoesOnlyToPeer(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	room := f.room(t, student, professor)
	typer, _ := f.connect(t, student, "s")
	peer, _ := f.connect(t, professor, "p")
	bystander, _ := f.connect(t, business, "b")

	f.hub.Dispatch(chathub.Inbound{
		Client: typer,
		Event:  models.MustEvent(models.EventTyping, models.TypingPayload{RoomID: room.ID, IsTyping: true}),
	})

	ev, ok := peer.next(models.EventUserTyping, wait)
	require.True(t, ok)
	var p models.TypingPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, student.ID, p.UserID)
	assert.True(t, p.IsTyping)

	_, leaked := bystander.next(models.EventUserTyping, 100*time.Millisecond)
	assert.False(t, leaked)
	_, echoed := typer.next(models.EventUserTyping, 100*time.Millisecond)
	assert.False(t, echoed)
}

func TestManager_TypingExpiresServerSide(t *testing.T) {
	f := newHub(t, 50*time.Millisecond, config.BlockSoft)
	room := f.room(t, student, professor)
	typer, _ := f.connect(t, student, "s")
	peer, _ := f.connect(t, professor, "p")

	f.hub.Dispatch(chathub.Inbound{
		Client: typer,
		Event:  models.MustEvent(models.EventTyping, models.TypingPayload{RoomID: room.ID, IsTyping: true}),
	})

	var p models.TypingPayload
	ev, ok := peer.next(models.EventUserTyping, wait)
	require.True(t, ok)
	require.NoError(t, ev.Decode(&p))
	assert.True(t, p.IsTyping)

	ev, ok = peer.next(models.EventUserTyping, wait)
	require.True(t, ok, "flag was not cleared")
	require.NoError(t, ev.Decode(&p))
	assert.False(t, p.IsTyping)
	assert.False(t, f.hub.Typing.Active(room.ID, student.ID))
}

func TestManager_CheckStatus(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	asker, _ := f.connect(t, student, "s")
	_, _ = f.connect(t, professor, "p")

	f.hub.Dispatch(chathub.Inbound{
		Client: asker,
		Event:  models.MustEvent(models.EventCheckStatus, models.CheckStatusPayload{UserID: professor.ID}),
	})
	ev, ok := asker.next(models.EventUserStatusUpdate, wait)
	require.True(t, ok)
	var p models.PresencePayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, professor.ID, p.UserID)
	assert.True(t, p.IsOnline)

	f.hub.Dispatch(chathub.Inbound{
		Client: asker,
		Event:  models.MustEvent(models.EventCheckStatus, models.CheckStatusPayload{UserID: "nobody"}),
	})
	ev, ok = asker.next(models.EventUserStatusUpdate, wait)
	require.True(t, ok)
	require.NoError(t, ev.Decode(&p))
	assert.False(t, p.IsOnline)
}

func TestManager_MarkReadSendsReceipt(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	ctx := context.Background()
	room := f.room(t, student, professor)
	_, err := f.svc.SendMessage(ctx, chat.SendInput{RoomID: room.ID, Sender: student, Content: "one"})
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, chat.SendInput{RoomID: room.ID, Sender: student, Content: "two"})
	require.NoError(t, err)

	author, _ := f.connect(t, student, "s")
	reader, _ := f.connect(t, professor, "p")

	f.hub.Dispatch(chathub.Inbound{
		Client: reader,
		Event:  models.MustEvent(models.EventMarkRead, models.MarkReadPayload{RoomID: room.ID}),
	})

	ev, ok := author.next(models.EventMessagesRead, wait)
	require.True(t, ok)
	var p models.ReadReceiptPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, room.ID, p.RoomID)
	assert.Equal(t, professor.ID, p.ReaderID)
	assert.EqualValues(t, 2, p.Count)
}

func TestManager_UnknownEvent(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	c, _ := f.connect(t, student, "s")

	f.hub.Dispatch(chathub.Inbound{Client: c, Event: models.Event{Type: "dance"}})
	_, ok := c.next(models.EventError, wait)
	assert.True(t, ok)
}

func TestManager_SlowClientIsClosed(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	slow := newMockClient(student, "slow")
	slow.RecvChannel = make(chan models.Event) // never drained

	require.True(t, f.hub.Register(slow))
	assert.Eventually(t, slow.IsClosed, wait, 10*time.Millisecond)
}

func TestManager_EventsFromOneConnectionKeepTheirOrder(t *testing.T) {
	f := newHub(t, 0, config.BlockSoft)
	room := f.room(t, student, professor)

	typer := newMockClient(student, "s")
	typer.RecvChannel = make(chan models.Event, 256)
	require.True(t, f.hub.Register(typer))
	_, ok := typer.next(models.EventOnlineUsers, wait)
	require.True(t, ok)

	peer := newMockClient(professor, "p")
	peer.RecvChannel = make(chan models.Event, 256)
	require.True(t, f.hub.Register(peer))
	_, ok = peer.next(models.EventOnlineUsers, wait)
	require.True(t, ok)
	typer.drain()

	const pairs = 50
	for i := 0; i < pairs; i++ {
		for _, typing := range []bool{true, false} {
			f.hub.Dispatch(chathub.Inbound{
				Client: typer,
				Event:  models.MustEvent(models.EventTyping, models.TypingPayload{RoomID: room.ID, IsTyping: typing}),
			})
		}
	}
	for i := 0; i < 2*pairs; i++ {
		ev, ok := peer.next(models.EventUserTyping, wait)
		require.True(t, ok, "typing event %d missing", i)
		var p models.TypingPayload
		require.NoError(t, ev.Decode(&p))
		require.Equal(t, i%2 == 0, p.IsTyping, "typing event %d out of order", i)
	}

	const sends = 30
	want := make([]string, 0, sends)
	for i := 0; i < sends; i++ {
		content := fmt.Sprintf("m%02d", i)
		want = append(want, content)
		f.hub.Dispatch(chathub.Inbound{
			Client: typer,
			Event:  models.MustEvent(models.EventSendMessage, models.SendMessagePayload{RoomID: room.ID, Content: content}),
		})
	}
	got := make([]string, 0, sends)
	for i := 0; i < sends; i++ {
		ev, ok := peer.next(models.EventReceiveMessage, wait)
		require.True(t, ok, "message %d missing", i)
		var msg models.Message
		require.NoError(t, ev.Decode(&msg))
		got = append(got, msg.Content)
	}
	assert.Equal(t, want, got)

	msgs, err := f.svc.ListMessages(context.Background(), room.ID, professor, 1, sends)
	require.NoError(t, err)
	stored := make([]string, 0, len(msgs))
	for _, m := range msgs {
		stored = append(stored, m.Content)
	}
	assert.Equal(t, want, stored)
}
