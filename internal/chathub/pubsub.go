package chathub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisFanout relays envelopes through a Redis pub/sub channel so that
// every node delivers to the connections it holds.
type RedisFanout struct {
	rdb     *redis.Client
	channel string
	pubsub  *redis.PubSub
	log     *logrus.Entry
}

var _ Fanout = (*RedisFanout)(nil)

func NewRedisFanout(rdb *redis.Client, channel string, logger *logrus.Logger) *RedisFanout {
	if channel == "" {
		channel = "chat:events"
	}
	return &RedisFanout{
		rdb:     rdb,
		channel: channel,
		log:     logger.WithField("component", "redis_fanout"),
	}
}

func (f *RedisFanout) Start(ctx context.Context, sink func(Envelope)) error {
	f.pubsub = f.rdb.Subscribe(ctx, f.channel)
	// Wait for the subscription so nothing published afterwards is missed.
	if _, err := f.pubsub.Receive(ctx); err != nil {
		f.pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	ch := f.pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					f.log.WithError(err).Warn("dropping undecodable envelope")
					continue
				}
				sink(env)
			}
		}
	}()
	return nil
}

func (f *RedisFanout) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.channel, b).Err()
}

func (f *RedisFanout) Close() error {
	if f.pubsub == nil {
		return nil
	}
	return f.pubsub.Close()
}
