package chathub_test

import (
	"campuschat/backend/internal/chathub"
	"campuschat/backend/internal/models"
	"sync"
	"time"
)

type MockClient struct {
	userID   string
	userType models.Role
	connID   string

	RecvChannel chan models.Event
	closed      chan struct{}
	once        sync.Once
}

var _ chathub.Client = (*MockClient)(nil)

func newMockClient(p models.Participant, connID string) *MockClient {
	return &MockClient{
		userID:      p.ID,
		userType:    p.Role,
		connID:      connID,
		RecvChannel: make(chan models.Event, 32),
		closed:      make(chan struct{}),
	}
}

func (c *MockClient) GetUserID() string        { return c.userID }
func (c *MockClient) GetUserType() models.Role { return c.userType }
func (c *MockClient) GetConnID() string        { return c.connID }

func (c *MockClient) Send(ev models.Event) error {
	select {
	case <-c.closed:
		return chathub.ErrClientClosed
	default:
	}
	select {
	case c.RecvChannel <- ev:
		return nil
	default:
		return chathub.ErrSlowClient
	}
}

func (c *MockClient) Run() {}

func (c *MockClient) Close() { c.once.Do(func() { close(c.closed) }) }

func (c *MockClient) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// next waits for the next event of the given type, skipping others.
func (c *MockClient) next(t models.EventType, within time.Duration) (models.Event, bool) {
	deadline := time.After(within)
	for {
		select {
		case ev := <-c.RecvChannel:
			if ev.Type == t {
				return ev, true
			}
		case <-deadline:
			return models.Event{}, false
		}
	}
}

// drain discards everything queued so far.
func (c *MockClient) drain() {
	for {
		select {
		case <-c.RecvChannel:
		default:
			return
		}
	}
}
