package storage_test

import (
	"campuschat/backend/internal/models"
	"campuschat/backend/internal/storage"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgres connects to CHAT_TEST_POSTGRES_DSN and skips without it.
func newPostgres(t *testing.T) *storage.Service {
	t.Helper()
	dsn := os.Getenv("CHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHAT_TEST_POSTGRES_DSN not set")
	}
	db, err := storage.OpenPostgres(dsn, 4, 2, time.Minute)
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s := storage.NewStorageService(db, logger)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return s
}

// pgUser returns a participant unique to this run so tests can share a database.
func pgUser(role models.Role) models.Participant {
	return models.Participant{ID: string(role) + "-" + uuid.NewString(), Role: role}
}

func pgRoom(t *testing.T, s *storage.Service, a, b models.Participant) *models.ChatRoom {
	t.Helper()
	room := models.NewChatRoom(a, b)
	require.NoError(t, s.CreateRoom(context.Background(), room))
	t.Cleanup(func() { _ = s.DeleteRoom(context.Background(), room.ID) })
	return room
}

func pgSend(t *testing.T, s *storage.Service, roomID string, from models.Participant, content string) *models.Message {
	t.Helper()
	msg := &models.Message{RoomID: roomID, SenderID: from.ID, SenderType: from.Role, Content: content}
	require.NoError(t, s.AppendMessage(context.Background(), msg))
	return msg
}

func TestPostgres_DuplicatePairRejected(t *testing.T) {
	s := newPostgres(t)
	a, b := pgUser(models.RoleStudent), pgUser(models.RoleProfessor)
	room := pgRoom(t, s, a, b)

	err := s.CreateRoom(context.Background(), models.NewChatRoom(b, a))
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	found, err := s.FindRoomByPair(context.Background(), b, a)
	require.NoError(t, err)
	assert.Equal(t, room.ID, found.ID)
}

func TestPostgres_AppendMessage(t *testing.T) {
	s := newPostgres(t)
	ctx := context.Background()
	a, b := pgUser(models.RoleStudent), pgUser(models.RoleBusiness)
	room := pgRoom(t, s, a, b)

	err := s.AppendMessage(ctx, &models.Message{RoomID: uuid.NewString(), SenderID: a.ID, SenderType: a.Role, Content: "lost"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	msg := pgSend(t, s, room.ID, a, "hello")
	assert.NotEmpty(t, msg.ID)

	got, err := s.GetRoomByID(ctx, room.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, msg.CreatedAt, got.LastActivityAt, time.Millisecond)
}

func TestPostgres_PagesAndLastMessages(t *testing.T) {
	s := newPostgres(t)
	ctx := context.Background()
	a, b, c := pgUser(models.RoleStudent), pgUser(models.RoleProfessor), pgUser(models.RoleBusiness)
	ab := pgRoom(t, s, a, b)
	ac := pgRoom(t, s, a, c)

	for i := 0; i < 5; i++ {
		pgSend(t, s, ab.ID, a, fmt.Sprintf("ab-%d", i))
	}
	pgSend(t, s, ac.ID, c, "ac-0")
	pgSend(t, s, ac.ID, a, "ac-1")

	newest, err := s.ListMessages(ctx, ab.ID, 0, 2)
	require.NoError(t, err)
	older, err := s.ListMessages(ctx, ab.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab-3", "ab-4"}, []string{newest[0].Content, newest[1].Content})
	assert.Equal(t, []string{"ab-1", "ab-2"}, []string{older[0].Content, older[1].Content})

	last, err := s.LastMessages(ctx, []string{ab.ID, ac.ID})
	require.NoError(t, err)
	assert.Equal(t, "ab-4", last[ab.ID].Content)
	assert.Equal(t, "ac-1", last[ac.ID].Content)
}

func TestPostgres_TotalUnreadIsSumOfRooms(t *testing.T) {
	s := newPostgres(t)
	ctx := context.Background()
	me, b, c := pgUser(models.RoleStudent), pgUser(models.RoleProfessor), pgUser(models.RoleBusiness)
	withB := pgRoom(t, s, me, b)
	withC := pgRoom(t, s, c, me)

	pgSend(t, s, withB.ID, b, "one")
	pgSend(t, s, withB.ID, b, "two")
	pgSend(t, s, withB.ID, me, "mine")
	pgSend(t, s, withC.ID, c, "three")

	check := func(wantB, wantC int64) {
		t.Helper()
		byRoom, err := s.UnreadCountsByRoom(ctx, me.ID)
		require.NoError(t, err)
		total, err := s.TotalUnreadCount(ctx, me.ID)
		require.NoError(t, err)
		assert.Equal(t, wantB, byRoom[withB.ID])
		assert.Equal(t, wantC, byRoom[withC.ID])
		assert.Equal(t, wantB+wantC, total)

		perRoom, err := s.UnreadCountForRoom(ctx, withB.ID, me.ID)
		require.NoError(t, err)
		assert.Equal(t, wantB, perRoom)
	}

	check(2, 1)

	n, err := s.MarkRead(ctx, withB.ID, me.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	check(0, 1)

	n, err = s.MarkRead(ctx, withB.ID, me.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgres_Blocks(t *testing.T) {
	s := newPostgres(t)
	ctx := context.Background()
	a, b := pgUser(models.RoleStudent), pgUser(models.RoleProfessor)
	t.Cleanup(func() { _ = s.Unblock(ctx, a.ID, b.ID) })

	require.NoError(t, s.Block(ctx, a.ID, b.ID))
	require.NoError(t, s.Block(ctx, a.ID, b.ID))
	blocked, err := s.IsBlocked(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, blocked)

	rels, err := s.ListBlocked(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	require.NoError(t, s.Unblock(ctx, a.ID, b.ID))
	assert.ErrorIs(t, s.Unblock(ctx, a.ID, b.ID), storage.ErrNotFound)
}
