package models_test

import (
	"campuschat/backend/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBeforeCreate_OrderedIDs(t *testing.T) {
	first := &models.Message{RoomID: "r"}
	second := &models.Message{RoomID: "r"}

	require.NoError(t, first.BeforeCreate(nil))
	require.NoError(t, second.BeforeCreate(nil))

	assert.Less(t, first.ID, second.ID)
}

func TestMessageBefore_TieBrokenByID(t *testing.T) {
	now := time.Now()
	a := &models.Message{ID: "01A", CreatedAt: now}
	b := &models.Message{ID: "01B", CreatedAt: now}
	c := &models.Message{ID: "00Z", CreatedAt: now.Add(time.Millisecond)}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c), "later timestamp wins over id order")
}

func TestMediaTypeValid(t *testing.T) {
	assert.True(t, models.MediaNone.Valid())
	assert.True(t, models.MediaImage.Valid())
	assert.False(t, models.MediaType("gif").Valid())
}

func TestEventRoundTrip(t *testing.T) {
	ev, err := models.NewEvent(models.EventUserTyping, models.TypingPayload{RoomID: "r1", UserID: "u1", IsTyping: true})
	require.NoError(t, err)

	var got models.TypingPayload
	require.NoError(t, ev.Decode(&got))
	assert.Equal(t, "r1", got.RoomID)
	assert.True(t, got.IsTyping)

	empty := models.Event{Type: models.EventCheckStatus}
	var status models.CheckStatusPayload
	assert.NoError(t, empty.Decode(&status), "missing payload decodes to zero value")
}
