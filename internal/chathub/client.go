package chathub

import (
	"campuschat/backend/internal/models"
	"errors"
)

var (
	// ErrClientClosed is returned by Send after Close.
	ErrClientClosed = errors.New("chathub: client closed")
	// ErrSlowClient is returned by Send when the outbound buffer is full.
	ErrSlowClient = errors.New("chathub: client send buffer full")
)

// Client is one live push connection. A user may hold several at once
// (tabs, devices); each is registered separately.
type Client interface {
	// GetUserID returns the authenticated user behind the connection.
	GetUserID() string
	GetUserType() models.Role
	// GetConnID identifies this connection among the user's others.
	GetConnID() string

	// Send queues an event without blocking. It fails when the client is
	// closed or cannot keep up.
	Send(ev models.Event) error

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the connection down. It is safe to call more than once.
	Close()
}

func participantOf(c Client) models.Participant {
	return models.Participant{ID: c.GetUserID(), Role: c.GetUserType()}
}
