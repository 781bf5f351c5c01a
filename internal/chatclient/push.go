package chatclient

import (
	"campuschat/backend/internal/models"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const pushWriteWait = 10 * time.Second

// Push is a live websocket connection to the hub.
type Push struct {
	conn    *websocket.Conn
	events  chan models.Event
	writeMu sync.Mutex
	log     *logrus.Entry
}

// wsURL turns an http(s) base URL into the ws(s) push endpoint.
func wsURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// DialPush opens the push connection. Events are delivered on Events until
// the connection drops, after which the channel is closed.
func DialPush(ctx context.Context, baseURL, token string, logger *logrus.Logger) (*Push, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(baseURL), header)
	if err != nil {
		return nil, err
	}
	p := &Push{
		conn:   conn,
		events: make(chan models.Event, 64),
		log:    logger.WithField("component", "push"),
	}
	go p.readLoop()
	return p, nil
}

func (p *Push) readLoop() {
	defer close(p.events)
	for {
		var ev models.Event
		if err := p.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.WithError(err).Info("push connection lost")
			}
			return
		}
		p.events <- ev
	}
}

func (p *Push) Events() <-chan models.Event { return p.events }

func (p *Push) write(ev models.Event) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
	return p.conn.WriteJSON(ev)
}

func (p *Push) SendTyping(roomID string, isTyping bool) error {
	return p.write(models.MustEvent(models.EventTyping, models.TypingPayload{RoomID: roomID, IsTyping: isTyping}))
}

func (p *Push) CheckStatus(userID string) error {
	return p.write(models.MustEvent(models.EventCheckStatus, models.CheckStatusPayload{UserID: userID}))
}

func (p *Push) Close() error {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	p.writeMu.Unlock()
	return p.conn.Close()
}
