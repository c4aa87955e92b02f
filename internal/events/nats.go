package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aaronwang/bidding-app/internal/models"
)

const (
	StreamName     = "AUCTION_EVENTS"
	SubjectPrefix  = "auction.events."
	SubjectPattern = SubjectPrefix + "*"
)

// Subject is the JetStream subject an event type is published on
func Subject(t models.EventType) string {
	return SubjectPrefix + string(t)
}

// EnsureStream creates the archive stream if it does not exist yet
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Committed auction, order and payment events for archival",
		Subjects:    []string{SubjectPattern},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy, // each message archived once
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	return stream, nil
}

// JetStreamPublisher persists events to the archive stream
type JetStreamPublisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

func NewJetStreamPublisher(ctx context.Context, url string) (*JetStreamPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("bidding-server"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := EnsureStream(ctx, js); err != nil {
		conn.Close()
		return nil, err
	}

	return &JetStreamPublisher{conn: conn, js: js}, nil
}

func (p *JetStreamPublisher) Name() string { return "nats" }

// Publish waits for the server's ack so the event is stored before
// returning. The event id doubles as the message id, so a retried publish
// is deduplicated by the stream.
func (p *JetStreamPublisher) Publish(ctx context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(ev.Type), data, jetstream.WithMsgID(ev.EventID)); err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}
	return nil
}

func (p *JetStreamPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
