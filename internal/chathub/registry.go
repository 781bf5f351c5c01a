package chathub

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const registryShards = 32

// Registry maps user ids to the connections held by this process. Each
// shard has its own lock so unrelated users never contend.
type Registry struct {
	shards [registryShards]*registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]map[string]Client // userID -> connID -> client
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{conns: make(map[string]map[string]Client)}
	}
	return r
}

func shardIndex(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}

func (r *Registry) shard(userID string) *registryShard {
	return r.shards[shardIndex(userID, registryShards)]
}

// Add registers c and reports whether it is the user's first connection.
func (r *Registry) Add(c Client) (first bool) {
	s := r.shard(c.GetUserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.conns[c.GetUserID()]
	if !ok {
		set = make(map[string]Client)
		s.conns[c.GetUserID()] = set
	}
	first = len(set) == 0
	set[c.GetConnID()] = c
	return first
}

// Remove unregisters c. removed is false when c was not registered; last
// reports whether the user has no connection left.
func (r *Registry) Remove(c Client) (removed, last bool) {
	s := r.shard(c.GetUserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.conns[c.GetUserID()]
	if !ok {
		return false, false
	}
	if _, ok := set[c.GetConnID()]; !ok {
		return false, false
	}
	delete(set, c.GetConnID())
	if len(set) == 0 {
		delete(s.conns, c.GetUserID())
		return true, true
	}
	return true, false
}

// Connections returns a snapshot of the user's connections.
func (r *Registry) Connections(userID string) []Client {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.conns[userID]
	out := make([]Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsConnected(userID string) bool {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[userID]) > 0
}

// Users lists every user with at least one local connection.
func (r *Registry) Users() []string {
	var out []string
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.conns {
			out = append(out, id)
		}
		s.mu.RUnlock()
	}
	return out
}

// All returns a snapshot of every local connection.
func (r *Registry) All() []Client {
	var out []Client
	for _, s := range r.shards {
		s.mu.RLock()
		for _, set := range s.conns {
			for _, c := range set {
				out = append(out, c)
			}
		}
		s.mu.RUnlock()
	}
	return out
}
