package models

import (
	"github.com/shopspring/decimal"
)

// ListingType distinguishes auction lots from fixed-price stock
type ListingType string

const (
	ListingAuction ListingType = "auction"
	ListingFixed   ListingType = "fixed"
)

// ParseListingType accepts the wire spelling of a listing type
func ParseListingType(s string) (ListingType, bool) {
	switch ListingType(s) {
	case ListingAuction, ListingFixed:
		return ListingType(s), true
	}
	return "", false
}

// ItemState is the auction lifecycle position of an item
type ItemState string

const (
	ItemStateListed  ItemState = "listed"  // accepting bids
	ItemStateEnded   ItemState = "ended"   // deadline passed, bidder assigned, not yet awarded
	ItemStateAwarded ItemState = "awarded" // deposited in the winner's cart
	ItemStateUnsold  ItemState = "unsold"  // deadline passed with no bidder
	ItemStateFixed   ItemState = "fixed"   // fixed-price listing, no lifecycle
)

// Item represents a listing, either an auction lot or fixed-price stock.
// EndTime is unix seconds; zero means the auction has been finalized.
// BidderID zero means no bidder.
type Item struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ListingType ListingType     `json:"listing_type"`
	CurrentBid  decimal.Decimal `json:"current_bid"`
	FixedPrice  decimal.Decimal `json:"fixed_price"`
	Inventory   int             `json:"inventory"`
	BidderID    int64           `json:"bidder_id,omitempty"`
	EndTime     int64           `json:"end_time"`
	Version     int64           `json:"version"`
}

// IsAuction reports whether the item takes bids
func (i *Item) IsAuction() bool {
	return i.ListingType == ListingAuction
}

// HasBidder reports whether a bid has ever been committed
func (i *Item) HasBidder() bool {
	return i.BidderID != 0
}

// AcceptsBids reports whether a bid submitted at unix time now may enter
// the commit loop.
func (i *Item) AcceptsBids(now int64) bool {
	return i.IsAuction() && i.EndTime != 0 && i.EndTime > now
}

// State derives the lifecycle state at unix time now
func (i *Item) State(now int64) ItemState {
	if !i.IsAuction() {
		return ItemStateFixed
	}
	switch {
	case i.EndTime == 0 && i.HasBidder():
		return ItemStateAwarded
	case i.EndTime == 0:
		return ItemStateUnsold
	case i.EndTime > now:
		return ItemStateListed
	case i.HasBidder():
		return ItemStateEnded
	default:
		return ItemStateUnsold
	}
}

// UnitPrice is what one unit costs at checkout: the fixed price for stock,
// the winning bid for an auction lot.
func (i *Item) UnitPrice() decimal.Decimal {
	if i.IsAuction() {
		return i.CurrentBid
	}
	return i.FixedPrice
}
