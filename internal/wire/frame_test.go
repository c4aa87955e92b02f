package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/models"
)

func TestParse(t *testing.T) {
	t.Run("command with fields", func(t *testing.T) {
		f, err := Parse("BID|1|150.50|tok\n")
		require.NoError(t, err)
		assert.Equal(t, CmdBid, f.Command)
		assert.Equal(t, []string{"1", "150.50", "tok"}, f.Args)
		assert.NoError(t, f.Arity(3, 3))
		assert.ErrorIs(t, f.Arity(4, 4), apperr.ErrValidation)
	})

	t.Run("bare command", func(t *testing.T) {
		f, err := Parse("GET_ITEMS")
		require.NoError(t, err)
		assert.Empty(t, f.Args)
	})

	t.Run("blank line", func(t *testing.T) {
		_, err := Parse("  \r\n")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestParseValues(t *testing.T) {
	_, err := ParseID("item", "0")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	id, err := ParseID("item", " 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ParseAmount("amount", "-3")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	amt, err := ParseAmount("amount", "99.9")
	require.NoError(t, err)
	assert.Equal(t, "99.90", Money(amt))

	for _, tt := range []struct {
		in   string
		want string
	}{
		{in: "150", want: "150.00"},
		{in: "150.05", want: "150.05"},
		{in: "150.000", want: "150.00"},
		{in: "9999999999.99", want: "9999999999.99"},
	} {
		t.Run("amount "+tt.in, func(t *testing.T) {
			d, err := ParseAmount("amount", tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Money(d))
		})
	}

	for _, in := range []string{
		"1e99999999",
		"1E3",
		"150.0049",
		"150.001",
		"10000000000",
		"0",
		"abc",
		"1" + strings.Repeat("0", 40),
	} {
		t.Run("rejects "+in[:min(len(in), 12)], func(t *testing.T) {
			_, err := ParseAmount("amount", in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	q, err := ParseQuantity("-1")
	require.NoError(t, err)
	assert.Equal(t, -1, q)

	assert.Error(t, CheckText("name", "a|b"))
	assert.Error(t, CheckText("name", "a,b"))
	assert.Error(t, CheckText("name", " "))
	assert.NoError(t, CheckText("name", "Antique Chair"))
}

func TestEncodeRows(t *testing.T) {
	items := []models.Item{
		{ID: 1, Name: "Chair", ListingType: models.ListingAuction, CurrentBid: decimal.NewFromInt(150), Version: 2, BidderID: 3, EndTime: 500},
		{ID: 5, Name: "Mug", ListingType: models.ListingFixed, FixedPrice: decimal.NewFromInt(20), Inventory: 3},
	}

	assert.Equal(t,
		"ITEMS_LIST|1,Chair,auction,150.00,0.00,0,3,500|5,Mug,fixed,0.00,20.00,3,0,0",
		string(ItemsList(items)))
	assert.Equal(t, "ITEM_UPDATE|1,Chair,auction,150.00,0.00,0,3,500", string(ItemUpdate(items[0])))
	assert.Equal(t, "AUCTION_ENDED|1|3|150.00", string(AuctionEnded(items[0])))
	assert.Equal(t, "ITEMS_LIST", string(ItemsList(nil)))

	cart := []models.CartEntry{{ItemID: 5, ItemName: "Mug", Quantity: 2, Price: decimal.NewFromInt(20)}}
	assert.Equal(t, "CART_ITEMS|5,Mug,2,20.00,0", string(CartItems(cart)))

	orders := []models.Order{{ID: 9, TotalAmount: decimal.NewFromInt(40), Status: models.OrderPending, CreatedAt: time.Unix(100, 0)}}
	assert.Equal(t, "ORDERS_LIST|9,40.00,pending,100", string(OrdersList(orders)))
}
