package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aaronwang/bidding-app/internal/models"
)

const ArchiverDurable = "archiver"

// EventAppender stores an archived event; false means it was already there
type EventAppender interface {
	AppendEvent(ctx context.Context, ev *models.Event) (bool, error)
}

// Archiver consumes the JetStream archive stream and appends every event
// to the event log. Delivery is at-least-once; the event id makes the
// append idempotent.
type Archiver struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	store   EventAppender
	logger  *slog.Logger
	consume jetstream.ConsumeContext
}

func NewArchiver(url string, store EventAppender, logger *slog.Logger) (*Archiver, error) {
	conn, err := nats.Connect(url, nats.Name("bidding-archiver"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Archiver{
		conn:   conn,
		js:     js,
		store:  store,
		logger: logger.With("component", "archiver"),
	}, nil
}

// Start binds the durable consumer and begins processing in the background
func (a *Archiver) Start(ctx context.Context) error {
	stream, err := EnsureStream(ctx, a.js)
	if err != nil {
		return err
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       ArchiverDurable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: SubjectPattern,
		MaxDeliver:    10,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	a.consume, err = cons.Consume(func(msg jetstream.Msg) {
		a.onMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	a.logger.Info("consuming archive stream", "stream", StreamName, "subject", SubjectPattern)
	return nil
}

func (a *Archiver) onMessage(ctx context.Context, msg jetstream.Msg) {
	if err := a.handle(ctx, msg.Data()); err != nil {
		a.logger.Error("failed to archive event", "subject", msg.Subject(), "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// handle decodes and stores one message. A malformed payload is not
// retried: it is logged and reported as handled.
func (a *Archiver) handle(ctx context.Context, data []byte) error {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		a.logger.Warn("dropping malformed event", "error", err)
		return nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	inserted, err := a.store.AppendEvent(dbCtx, &ev)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.EventID, err)
	}
	if inserted {
		a.logger.Info("archived event", "event_id", ev.EventID, "type", ev.Type, "item_id", ev.ItemID, "order_id", ev.OrderID)
	} else {
		a.logger.Debug("duplicate event skipped", "event_id", ev.EventID)
	}
	return nil
}

// Close stops consuming and drains the connection
func (a *Archiver) Close() error {
	if a.consume != nil {
		a.consume.Stop()
	}
	if a.conn != nil {
		return a.conn.Drain()
	}
	return nil
}
