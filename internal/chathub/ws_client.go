package chathub

import (
	"campuschat/backend/internal/models"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// WebSocketClient implements Client on a gorilla websocket connection.
type WebSocketClient struct {
	UserID   string
	UserType models.Role
	ConnID   string
	Conn     *websocket.Conn
	Hub      *ManagerService

	send chan models.Event
	done chan struct{}
	once sync.Once
	log  *logrus.Entry
}

var _ Client = (*WebSocketClient)(nil)

func NewWebSocketClient(conn *websocket.Conn, hub *ManagerService, user models.Participant, buffer int, logger *logrus.Logger) *WebSocketClient {
	if buffer <= 0 {
		buffer = 256
	}
	connID := uuid.New().String()
	return &WebSocketClient{
		UserID:   user.ID,
		UserType: user.Role,
		ConnID:   connID,
		Conn:     conn,
		Hub:      hub,
		send:     make(chan models.Event, buffer),
		done:     make(chan struct{}),
		log:      logger.WithFields(logrus.Fields{"user_id": user.ID, "conn_id": connID}),
	}
}

func (c *WebSocketClient) GetUserID() string        { return c.UserID }
func (c *WebSocketClient) GetUserType() models.Role { return c.UserType }
func (c *WebSocketClient) GetConnID() string        { return c.ConnID }

func (c *WebSocketClient) Send(ev models.Event) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSlowClient
	}
}

func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the socket and thereby ends the
// read pump. The send channel is never closed so concurrent Sends are safe.
func (c *WebSocketClient) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Info("websocket read failed")
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.WithError(err).Debug("dropping undecodable frame")
			_ = c.Send(models.MustEvent(models.EventError, models.ErrorPayload{Message: "invalid frame"}))
			continue
		}
		c.Hub.Dispatch(Inbound{Client: c, Event: ev})
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case ev := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(ev); err != nil {
				c.log.WithError(err).Debug("websocket write failed")
				c.Close()
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
