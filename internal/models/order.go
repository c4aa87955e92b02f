package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User mirrors the users table
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
}

// CartEntry is one (user, item) row of the cart. Price is snapshotted at
// add time.
type CartEntry struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	ItemID    int64           `json:"item_id"`
	ItemName  string          `json:"item_name"`
	IsAuction bool            `json:"is_auction"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	AddedAt   time.Time       `json:"added_at"`
}

// OrderStatus only moves from pending to paid
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
)

type Order struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	Items       []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ItemID    int64           `json:"item_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	IsAuction bool            `json:"is_auction"`
}

const PaymentCompleted = "completed"

type Payment struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"payment_method"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
	Timestamp     time.Time       `json:"timestamp"`
}
