package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a state change worth telling the outside world about
type EventType string

const (
	EventBidCommitted     EventType = "bid_committed"
	EventAuctionEnded     EventType = "auction_ended"
	EventItemCreated      EventType = "item_created"
	EventOrderCreated     EventType = "order_created"
	EventPaymentCompleted EventType = "payment_completed"
)

// Event is published to the configured brokers after a state change has
// been committed. It is sent to:
// 1. NATS JetStream (archival via cmd/archiver)
// 2. Redis Pub/Sub (operators tailing the feed)
// 3. RabbitMQ (order and payment events only)
type Event struct {
	EventID     string          `json:"event_id"`
	Type        EventType       `json:"type"`
	ItemID      int64           `json:"item_id,omitempty"`
	UserID      int64           `json:"user_id,omitempty"`
	OrderID     int64           `json:"order_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	PreviousBid decimal.Decimal `json:"previous_bid"`
	Version     int64           `json:"version,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewEvent stamps a fresh event id and timestamp
func NewEvent(t EventType) *Event {
	return &Event{
		EventID:   uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}
