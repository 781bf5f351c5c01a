package chathub

import (
	"campuschat/backend/internal/models"
	"context"
	"sync"
)

// Envelope is an event addressed to users. Nil Targets addresses every
// connected user.
type Envelope struct {
	Targets []string     `json:"targets,omitempty"`
	Event   models.Event `json:"event"`
}

// Fanout carries envelopes to every node, where sink hands them to local
// connections.
type Fanout interface {
	// Start installs the local sink and begins consuming. It returns once
	// consumption is set up.
	Start(ctx context.Context, sink func(Envelope)) error
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// LocalFanout delivers in process.
type LocalFanout struct {
	mu   sync.RWMutex
	sink func(Envelope)
}

var _ Fanout = (*LocalFanout)(nil)

func NewLocalFanout() *LocalFanout {
	return &LocalFanout{}
}

func (f *LocalFanout) Start(_ context.Context, sink func(Envelope)) error {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	return nil
}

func (f *LocalFanout) Publish(_ context.Context, env Envelope) error {
	f.mu.RLock()
	sink := f.sink
	f.mu.RUnlock()
	if sink != nil {
		sink(env)
	}
	return nil
}

func (f *LocalFanout) Close() error {
	f.mu.Lock()
	f.sink = nil
	f.mu.Unlock()
	return nil
}
