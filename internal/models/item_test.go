package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestItemState(t *testing.T) {
	const now = int64(1_000)

	tests := []struct {
		name  string
		item  Item
		state ItemState
		bids  bool
	}{
		{"fixed price", Item{ListingType: ListingFixed, EndTime: now + 10}, ItemStateFixed, false},
		{"open auction", Item{ListingType: ListingAuction, EndTime: now + 10}, ItemStateListed, true},
		{"ended with bidder", Item{ListingType: ListingAuction, EndTime: now, BidderID: 7}, ItemStateEnded, false},
		{"ended without bidder", Item{ListingType: ListingAuction, EndTime: now - 1}, ItemStateUnsold, false},
		{"awarded", Item{ListingType: ListingAuction, BidderID: 7}, ItemStateAwarded, false},
		{"retired unsold", Item{ListingType: ListingAuction}, ItemStateUnsold, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.state, tt.item.State(now))
			assert.Equal(t, tt.bids, tt.item.AcceptsBids(now))
		})
	}
}

func TestUnitPrice(t *testing.T) {
	auction := Item{ListingType: ListingAuction, CurrentBid: decimal.NewFromInt(300), FixedPrice: decimal.NewFromInt(1)}
	fixed := Item{ListingType: ListingFixed, CurrentBid: decimal.NewFromInt(300), FixedPrice: decimal.NewFromInt(20)}

	assert.True(t, auction.UnitPrice().Equal(decimal.NewFromInt(300)))
	assert.True(t, fixed.UnitPrice().Equal(decimal.NewFromInt(20)))
}

func TestParseListingType(t *testing.T) {
	lt, ok := ParseListingType("auction")
	assert.True(t, ok)
	assert.Equal(t, ListingAuction, lt)

	_, ok = ParseListingType("raffle")
	assert.False(t, ok)
}
