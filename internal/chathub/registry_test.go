package chathub_test

import (
	"campuschat/backend/internal/chathub"
	"campuschat/backend/internal/models"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FirstAndLastConnection(t *testing.T) {
	r := chathub.NewRegistry()
	u := models.Participant{ID: "u1", Role: models.RoleStudent}
	tab1 := newMockClient(u, "tab1")
	tab2 := newMockClient(u, "tab2")

	assert.True(t, r.Add(tab1))
	assert.False(t, r.Add(tab2))
	assert.Len(t, r.Connections("u1"), 2)

	removed, last := r.Remove(tab1)
	assert.True(t, removed)
	assert.False(t, last)

	removed, last = r.Remove(tab2)
	assert.True(t, removed)
	assert.True(t, last)
	assert.False(t, r.IsConnected("u1"))

	removed, _ = r.Remove(tab2)
	assert.False(t, removed, "second removal is a no-op")
}

func TestRegistry_ConcurrentUsers(t *testing.T) {
	r := chathub.NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Add(newMockClient(models.Participant{ID: fmt.Sprintf("u%d", i), Role: models.RoleStudent}, "c"))
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Users(), 100)
	assert.Len(t, r.All(), 100)
}

func TestMemoryPresence_Transitions(t *testing.T) {
	ctx := context.Background()
	p := chathub.NewMemoryPresence()

	on, err := p.Connect(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, on)
	on, _ = p.Connect(ctx, "u1")
	assert.False(t, on)

	off, _ := p.Disconnect(ctx, "u1")
	assert.False(t, off)
	online, _ := p.IsOnline(ctx, "u1")
	assert.True(t, online)

	off, _ = p.Disconnect(ctx, "u1")
	assert.True(t, off)
	online, _ = p.IsOnline(ctx, "u1")
	assert.False(t, online)

	off, _ = p.Disconnect(ctx, "u1")
	assert.False(t, off, "disconnecting an offline user changes nothing")

	_, _ = p.Connect(ctx, "b")
	_, _ = p.Connect(ctx, "a")
	all, err := p.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, all)
}
