package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is a committed row of the bids table
type Bid struct {
	ID        int64           `json:"id"`
	ItemID    int64           `json:"item_id"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// PendingBid is a submitted bid waiting in an item's queue. ConnID names
// the connection that submitted it so a rejection can be routed back; the
// bid is still processed if that connection has gone away.
type PendingBid struct {
	UserID      int64
	Amount      decimal.Decimal
	ConnID      string
	SubmittedAt time.Time
}

// BidOutcome reports what the processor did with a pending bid
type BidOutcome string

const (
	BidCommitted BidOutcome = "committed"
	BidOutbid    BidOutcome = "outbid"
	// BidExpired covers a closed auction or a non-auction item
	BidExpired BidOutcome = "expired"
	// BidTimedOut means the commit budget ran out
	BidTimedOut BidOutcome = "timeout"
	BidFailed   BidOutcome = "failed"
)
