package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/aaronwang/bidding-app/internal/models"
)

// Message is one event received from Redis Pub/Sub
type Message struct {
	Channel string
	Type    models.EventType
	Payload string // raw JSON
	Event   models.Event
}

// Subscriber tails the Redis event channels
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *slog.Logger
}

func NewSubscriber(client *redis.Client, logger *slog.Logger) *Subscriber {
	return &Subscriber{client: client, logger: logger.With("component", "event-subscriber")}
}

// Subscribe listens on every event channel, or only on the given types
func (s *Subscriber) Subscribe(ctx context.Context, types ...models.EventType) error {
	if len(types) == 0 {
		s.pubsub = s.client.PSubscribe(ctx, ChannelPrefix+"*")
	} else {
		channels := make([]string, 0, len(types))
		for _, t := range types {
			channels = append(channels, Channel(t))
		}
		s.pubsub = s.client.Subscribe(ctx, channels...)
	}

	// Wait for the subscription to be confirmed
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Listen forwards parsed messages to out until ctx is done. It blocks; run
// it in a goroutine.
func (s *Subscriber) Listen(ctx context.Context, out chan<- *Message) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription closed")
			}
			parsed, err := ParseMessage(msg.Channel, msg.Payload)
			if err != nil {
				s.logger.Warn("failed to parse message", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case out <- parsed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// ParseMessage decodes a payload received on channel
func ParseMessage(channel, payload string) (*Message, error) {
	var ev models.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, err
	}
	return &Message{
		Channel: channel,
		Type:    eventTypeFromChannel(channel),
		Payload: payload,
		Event:   ev,
	}, nil
}

// "auction_events:bid_committed" -> "bid_committed"
func eventTypeFromChannel(channel string) models.EventType {
	return models.EventType(strings.TrimPrefix(channel, ChannelPrefix))
}

func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
