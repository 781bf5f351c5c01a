package chathub

import (
	"campuschat/backend/internal/models"
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Broadcaster turns chat events into push envelopes. It has no queue:
// users without a live connection catch up by polling.
type Broadcaster struct {
	fanout Fanout
	log    *logrus.Entry
}

func NewBroadcaster(fanout Fanout, logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{fanout: fanout, log: logger.WithField("component", "broadcaster")}
}

// Deliver pushes msg to every connection of the sender and, when
// pushToRecipient is set, of the recipient.
func (b *Broadcaster) Deliver(ctx context.Context, msg models.Message, recipient models.Participant, pushToRecipient bool) error {
	targets := []string{msg.SenderID}
	if pushToRecipient && recipient.ID != "" && recipient.ID != msg.SenderID {
		targets = append(targets, recipient.ID)
	}
	ev, err := models.NewEvent(models.EventReceiveMessage, msg)
	if err != nil {
		return err
	}
	return b.fanout.Publish(ctx, Envelope{Targets: targets, Event: ev})
}

// MessageCreated implements chat.Notifier.
func (b *Broadcaster) MessageCreated(ctx context.Context, msg models.Message, recipient models.Participant, pushToRecipient bool) {
	if err := b.Deliver(ctx, msg, recipient, pushToRecipient); err != nil {
		b.log.WithError(err).WithFields(logrus.Fields{"room_id": msg.RoomID, "message_id": msg.ID}).Warn("message push failed")
	}
}

// MessagesRead implements chat.Notifier by sending a read receipt to the
// reader's peer.
func (b *Broadcaster) MessagesRead(ctx context.Context, room models.ChatRoom, reader models.Participant, count int64, at time.Time) {
	peer, ok := room.Other(reader)
	if !ok {
		return
	}
	ev := models.MustEvent(models.EventMessagesRead, models.ReadReceiptPayload{
		RoomID:   room.ID,
		ReaderID: reader.ID,
		Count:    count,
		ReadAt:   at,
	})
	if err := b.SendTo(ctx, ev, peer.ID); err != nil {
		b.log.WithError(err).WithField("room_id", room.ID).Warn("read receipt push failed")
	}
}

// SendTo pushes ev to the given users.
func (b *Broadcaster) SendTo(ctx context.Context, ev models.Event, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	return b.fanout.Publish(ctx, Envelope{Targets: userIDs, Event: ev})
}

// Broadcast pushes ev to every connected user.
func (b *Broadcaster) Broadcast(ctx context.Context, ev models.Event) error {
	return b.fanout.Publish(ctx, Envelope{Event: ev})
}
