package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/ports"
)

// DefaultChannel is the pub/sub channel auth transitions are published on.
const DefaultChannel = "portal:auth-events"

// EventBus distributes auth transitions over Redis pub/sub. Delivery is
// at-most-once: subscribers that are offline miss events.
type EventBus struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

// NewEventBus creates an EventBus on channel. An empty channel uses DefaultChannel.
func NewEventBus(client *redis.Client, channel string, log zerolog.Logger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{client: client, channel: channel, log: log}
}

func (b *EventBus) Publish(ctx context.Context, ev ports.BusEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then forwards every
// decodable message until ctx is done or cancel is called.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan ports.BusEvent, func() error, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan ports.BusEvent, 16)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() error {
		var err error
		once.Do(func() {
			close(done)
			err = ps.Close()
		})
		return err
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decodeEvent(msg.Payload)
				if err != nil {
					b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed auth event")
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				case <-ctx.Done():
					_ = cancel()
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

func decodeEvent(payload string) (ports.BusEvent, error) {
	var ev ports.BusEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ports.BusEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Kind == "" || (ev.SessionID == "" && ev.UserID == "") {
		return ports.BusEvent{}, fmt.Errorf("decode event: missing kind or subject")
	}
	return ev, nil
}
