package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBridge mirrors bus events across processes over a Redis pub/sub channel,
// so a running `ismart serve` sees project changes made by the CLI.
type RedisBridge struct {
	client  *redis.Client
	channel string
	bus     *Bus
	logger  *logrus.Logger
}

// NewRedisBridge connects to addr and verifies the connection.
func NewRedisBridge(ctx context.Context, addr, password, channel string, bus *Bus, logger *logrus.Logger) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}
	return newRedisBridge(client, channel, bus, logger), nil
}

func newRedisBridge(client *redis.Client, channel string, bus *Bus, logger *logrus.Logger) *RedisBridge {
	return &RedisBridge{client: client, channel: channel, bus: bus, logger: logger}
}

// Forward publishes every locally originated event to Redis until the
// returned function is called.
func (r *RedisBridge) Forward(ctx context.Context) func() {
	return r.bus.SubscribeAll(func(ev Event) {
		if ev.Origin != r.bus.Origin() {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			r.logger.WithError(err).WithField("event", ev.Name).Warn("failed to encode event for redis")
			return
		}
		if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
			r.logger.WithError(err).WithField("event", ev.Name).Warn("failed to publish event to redis")
		}
	})
}

// Listen re-publishes remote events on the local bus until ctx is done.
// Events that originated here are dropped.
func (r *RedisBridge) Listen(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisBridge) handle(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.WithError(err).Warn("dropping malformed event from redis")
		return
	}
	if ev.Origin == r.bus.Origin() {
		return
	}
	r.bus.Publish(ev)
}

// Close releases the Redis connection.
func (r *RedisBridge) Close() error {
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
