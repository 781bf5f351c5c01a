package chathub

import (
	"context"
	"sort"
	"sync"
)

// Presence tracks the global online flag of users. Connect and Disconnect
// are called once per node on the user's first and last local connection.
type Presence interface {
	// Connect reports whether the user just went from offline to online.
	Connect(ctx context.Context, userID string) (becameOnline bool, err error)
	// Disconnect reports whether the user just went offline.
	Disconnect(ctx context.Context, userID string) (becameOffline bool, err error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	// Online lists every online user.
	Online(ctx context.Context) ([]string, error)
}

const presenceShards = 16

// MemoryPresence is the single-process Presence.
type MemoryPresence struct {
	shards [presenceShards]*presenceShard
}

type presenceShard struct {
	mu     sync.RWMutex
	counts map[string]int
}

var _ Presence = (*MemoryPresence)(nil)

func NewMemoryPresence() *MemoryPresence {
	p := &MemoryPresence{}
	for i := range p.shards {
		p.shards[i] = &presenceShard{counts: make(map[string]int)}
	}
	return p
}

func (p *MemoryPresence) shard(userID string) *presenceShard {
	return p.shards[shardIndex(userID, presenceShards)]
}

func (p *MemoryPresence) Connect(_ context.Context, userID string) (bool, error) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[userID]++
	return s.counts[userID] == 1, nil
}

func (p *MemoryPresence) Disconnect(_ context.Context, userID string) (bool, error) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[userID]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(s.counts, userID)
		return true, nil
	}
	s.counts[userID] = n - 1
	return false, nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	s := p.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[userID] > 0, nil
}

func (p *MemoryPresence) Online(_ context.Context) ([]string, error) {
	var out []string
	for _, s := range p.shards {
		s.mu.RLock()
		for id := range s.counts {
			out = append(out, id)
		}
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out, nil
}
