// Package wire encodes and decodes the line-oriented text frames exchanged
// over client connections. A frame is a single line whose fields are
// separated by '|'; the first field names the command or event. List
// values carry one row per field, with the row's columns separated by ','.
package wire

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/bidding-app/internal/apperr"
)

const (
	FieldSep = "|"
	SubSep   = ","
)

// Inbound commands
const (
	CmdLogin          = "LOGIN"
	CmdGetItems       = "GET_ITEMS"
	CmdBid            = "BID"
	CmdAddToCart      = "ADD_TO_CART"
	CmdUpdateCart     = "UPDATE_CART"
	CmdGetCart        = "GET_CART"
	CmdCheckout       = "CHECKOUT"
	CmdProcessPayment = "PROCESS_PAYMENT"
	CmdGetOrders      = "GET_ORDERS"
	CmdAdmin          = "ADMIN"

	AdminAddItem = "ADD_ITEM"
)

// Outbound events
const (
	EvLoginSuccess   = "LOGIN_SUCCESS"
	EvError          = "ERROR"
	EvItemsList      = "ITEMS_LIST"
	EvItemUpdate     = "ITEM_UPDATE"
	EvAck            = "ACK"
	EvCartItems      = "CART_ITEMS"
	EvCartUpdated    = "CART_UPDATED"
	EvOrderCreated   = "ORDER_CREATED"
	EvOrdersList     = "ORDERS_LIST"
	EvPaymentSuccess = "PAYMENT_SUCCESS"
	EvAuctionEnded   = "AUCTION_ENDED"
	EvAdminSuccess   = "ADMIN_SUCCESS"
	EvBidRejected    = "BID_REJECTED"
)

// Frame is a parsed inbound line
type Frame struct {
	Command string
	Args    []string
}

// Parse splits a raw line into a command and its arguments
func Parse(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Frame{}, apperr.Validation("empty frame")
	}
	parts := strings.Split(line, FieldSep)
	return Frame{Command: parts[0], Args: parts[1:]}, nil
}

// Arity checks that the frame carries between min and max arguments
func (f Frame) Arity(min, max int) error {
	if len(f.Args) < min || len(f.Args) > max {
		return apperr.Validation("%s expects %d-%d fields, got %d", f.Command, min, max, len(f.Args))
	}
	return nil
}

// Encode joins an event name and its fields into one frame
func Encode(event string, fields ...string) []byte {
	var b strings.Builder
	b.WriteString(event)
	for _, f := range fields {
		b.WriteString(FieldSep)
		b.WriteString(f)
	}
	return []byte(b.String())
}

// Row joins the columns of one list entry
func Row(cols ...string) string {
	return strings.Join(cols, SubSep)
}

// Error builds an ERROR frame
func Error(msg string) []byte {
	return Encode(EvError, msg)
}

// CheckText rejects free text that would break framing
func CheckText(field, s string) error {
	if strings.TrimSpace(s) == "" {
		return apperr.Validation("%s must not be empty", field)
	}
	if strings.ContainsAny(s, FieldSep+SubSep+"\r\n") {
		return apperr.Validation("%s contains a reserved character", field)
	}
	return nil
}

func ParseID(field, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s %q", field, s)
	}
	return id, nil
}

// ParseQuantity accepts any integer; callers decide what zero or negative means
func ParseQuantity(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, apperr.Validation("invalid quantity %q", s)
	}
	return n, nil
}

// MaxAmount is the first value a DECIMAL(12,2) money column cannot hold
var MaxAmount = decimal.New(1, 10)

// ParseAmount parses a strictly positive money amount in plain notation
// with at most two decimal places, below MaxAmount.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	// Exponents would let a short frame expand into a huge number.
	if len(s) > 32 || strings.ContainsAny(s, "eE") {
		return decimal.Zero, apperr.Validation("invalid %s %q", field, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, apperr.Validation("invalid %s %q", field, s)
	}
	if !d.Equal(d.Truncate(2)) {
		return decimal.Zero, apperr.Validation("%s has more than two decimal places", field)
	}
	if d.GreaterThanOrEqual(MaxAmount) {
		return decimal.Zero, apperr.Validation("%s is too large", field)
	}
	return d.Truncate(2), nil
}

// Money renders an amount with two decimals
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func Int(n int64) string {
	return strconv.FormatInt(n, 10)
}
