package wire

import (
	"strconv"

	"github.com/aaronwang/bidding-app/internal/models"
)

// ItemRow renders id,name,listing_type,current_bid,fixed_price,inventory,bidder_id,end_time
func ItemRow(it models.Item) string {
	return Row(
		Int(it.ID),
		it.Name,
		string(it.ListingType),
		Money(it.CurrentBid),
		Money(it.FixedPrice),
		strconv.Itoa(it.Inventory),
		Int(it.BidderID),
		Int(it.EndTime),
	)
}

func ItemsList(items []models.Item) []byte {
	rows := make([]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, ItemRow(it))
	}
	return Encode(EvItemsList, rows...)
}

func ItemUpdate(it models.Item) []byte {
	return Encode(EvItemUpdate, ItemRow(it))
}

// CartItems renders item_id,name,quantity,price,is_auction rows
func CartItems(entries []models.CartEntry) []byte {
	rows := make([]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, Row(Int(e.ItemID), e.ItemName, strconv.Itoa(e.Quantity), Money(e.Price), Flag(e.IsAuction)))
	}
	return Encode(EvCartItems, rows...)
}

// OrdersList renders id,total,status,created_at rows
func OrdersList(orders []models.Order) []byte {
	rows := make([]string, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, Row(Int(o.ID), Money(o.TotalAmount), string(o.Status), Int(o.CreatedAt.Unix())))
	}
	return Encode(EvOrdersList, rows...)
}

func AuctionEnded(it models.Item) []byte {
	return Encode(EvAuctionEnded, Int(it.ID), Int(it.BidderID), Money(it.CurrentBid))
}

// Flag renders a boolean the way list rows do
func Flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
