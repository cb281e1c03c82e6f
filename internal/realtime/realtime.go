package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Event names pushed to clients.
const (
	EventJobProgress        = "job.progress"
	EventNotificationPushed = "notification.pushed"
)

// Envelope is what travels over the Redis channel of a group.
type Envelope struct {
	Group   string          `json:"group"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Pusher delivers an event to every connection in a group.
type Pusher interface {
	PublishToGroup(ctx context.Context, group, event string, payload any) error
}

// RedisPusher publishes group events on "<prefix><group>" channels so any API
// instance holding a stream for that group can forward them.
type RedisPusher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPusher(client redis.UniversalClient, prefix string) *RedisPusher {
	return &RedisPusher{client: client, prefix: prefix}
}

func (p *RedisPusher) PublishToGroup(ctx context.Context, group, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	data, err := json.Marshal(Envelope{Group: group, Event: event, Payload: body})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := p.client.Publish(ctx, p.prefix+group, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", event, group, err)
	}
	return nil
}

// Hub fans group events out to streaming connections.
type Hub struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

func NewHub(client redis.UniversalClient, prefix string, logger *slog.Logger) *Hub {
	return &Hub{client: client, prefix: prefix, logger: logger}
}

// Subscribe joins the given groups. The returned channel is closed once ctx
// is done or the subscription drops.
func (h *Hub) Subscribe(ctx context.Context, groups ...string) (<-chan Envelope, error) {
	channels := make([]string, len(groups))
	for i, g := range groups {
		channels[i] = h.prefix + g
	}

	ps := h.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to groups: %w", err)
	}

	out := make(chan Envelope, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					h.logger.Warn("Dropping undecodable realtime message",
						slog.String("channel", msg.Channel),
						slog.Any("error", err),
					)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
