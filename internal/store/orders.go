package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/models"
)

// CartEntries lists a user's cart joined with item name and listing type
func (r runner) CartEntries(ctx context.Context, userID int64) ([]models.CartEntry, error) {
	rows, err := r.query(ctx, `
		SELECT c.id, c.user_id, c.item_id, i.name, i.listing_type, c.quantity, c.price, c.added_at
		FROM cart c
		JOIN items i ON i.id = c.item_id
		WHERE c.user_id = ?
		ORDER BY c.id`, userID)
	if err != nil {
		return nil, apperr.Persistence("list cart", err)
	}
	defer rows.Close()

	var entries []models.CartEntry
	for rows.Next() {
		var (
			e       models.CartEntry
			listing string
			added   int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.ItemID, &e.ItemName, &listing, &e.Quantity, &e.Price, &added); err != nil {
			return nil, apperr.Persistence("scan cart", err)
		}
		e.IsAuction = models.ListingType(listing) == models.ListingAuction
		e.AddedAt = time.Unix(added, 0).UTC()
		entries = append(entries, e)
	}
	return entries, apperr.Persistence("list cart", rows.Err())
}

// GetOrder loads an order header
func (r runner) GetOrder(ctx context.Context, orderID int64) (models.Order, error) {
	var (
		o       models.Order
		status  string
		created int64
	)
	err := r.queryRow(ctx,
		`SELECT id, user_id, total_amount, status, created_at FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.UserID, &o.TotalAmount, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID)
	}
	if err != nil {
		return models.Order{}, apperr.Persistence("get order", err)
	}
	o.Status = models.OrderStatus(status)
	o.CreatedAt = time.Unix(created, 0).UTC()
	return o, nil
}

// ListOrders returns a user's orders, newest first
func (r runner) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	rows, err := r.query(ctx,
		`SELECT id, user_id, total_amount, status, created_at FROM orders WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var (
			o       models.Order
			status  string
			created int64
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalAmount, &status, &created); err != nil {
			return nil, apperr.Persistence("scan order", err)
		}
		o.Status = models.OrderStatus(status)
		o.CreatedAt = time.Unix(created, 0).UTC()
		orders = append(orders, o)
	}
	return orders, apperr.Persistence("list orders", rows.Err())
}

// OrderItems lists the lines of an order
func (r runner) OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	rows, err := r.query(ctx,
		`SELECT id, order_id, item_id, quantity, price, is_auction FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, apperr.Persistence("list order items", err)
	}
	defer rows.Close()

	var lines []models.OrderItem
	for rows.Next() {
		var oi models.OrderItem
		if err := rows.Scan(&oi.ID, &oi.OrderID, &oi.ItemID, &oi.Quantity, &oi.Price, &oi.IsAuction); err != nil {
			return nil, apperr.Persistence("scan order item", err)
		}
		lines = append(lines, oi)
	}
	return lines, apperr.Persistence("list order items", rows.Err())
}

// Payments lists payments recorded against an order
func (r runner) Payments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	rows, err := r.query(ctx, `
		SELECT id, order_id, amount, payment_method, status, transaction_id, timestamp
		FROM payments WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, apperr.Persistence("list payments", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var (
			p  models.Payment
			ts int64
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.TransactionID, &ts); err != nil {
			return nil, apperr.Persistence("scan payment", err)
		}
		p.Timestamp = time.Unix(ts, 0).UTC()
		payments = append(payments, p)
	}
	return payments, apperr.Persistence("list payments", rows.Err())
}

// UpsertCart inserts the (user, item) row or overwrites its quantity and
// price snapshot. The unique key keeps one row per pair.
func (t *Tx) UpsertCart(ctx context.Context, userID, itemID int64, qty int, price decimal.Decimal, at time.Time) error {
	_, err := t.exec(ctx, `
		INSERT INTO cart (user_id, item_id, quantity, price, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = excluded.quantity, price = excluded.price, added_at = excluded.added_at`,
		userID, itemID, qty, price, at.Unix())
	return apperr.Persistence("upsert cart", err)
}

// SetCartQuantity overwrites the quantity of an existing cart row
func (t *Tx) SetCartQuantity(ctx context.Context, userID, itemID int64, qty int) error {
	res, err := t.exec(ctx, `UPDATE cart SET quantity = ? WHERE user_id = ? AND item_id = ?`, qty, userID, itemID)
	if err != nil {
		return apperr.Persistence("update cart", err)
	}
	return expectOne(res, "update cart", fmt.Errorf("%w: item %d is not in the cart", apperr.ErrNotFound, itemID))
}

// DeleteCartRow removes one cart row; removing a missing row is not an error
func (t *Tx) DeleteCartRow(ctx context.Context, userID, itemID int64) error {
	_, err := t.exec(ctx, `DELETE FROM cart WHERE user_id = ? AND item_id = ?`, userID, itemID)
	return apperr.Persistence("delete cart row", err)
}

// ClearCart empties a user's cart
func (t *Tx) ClearCart(ctx context.Context, userID int64) error {
	_, err := t.exec(ctx, `DELETE FROM cart WHERE user_id = ?`, userID)
	return apperr.Persistence("clear cart", err)
}

// CreateOrder inserts an order header and fills in its id
func (t *Tx) CreateOrder(ctx context.Context, o *models.Order) error {
	err := t.queryRow(ctx,
		`INSERT INTO orders (user_id, total_amount, status, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		o.UserID, o.TotalAmount, string(o.Status), o.CreatedAt.Unix(),
	).Scan(&o.ID)
	return apperr.Persistence("create order", err)
}

// AddOrderItem appends one order line
func (t *Tx) AddOrderItem(ctx context.Context, oi *models.OrderItem) error {
	err := t.queryRow(ctx,
		`INSERT INTO order_items (order_id, item_id, quantity, price, is_auction) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		oi.OrderID, oi.ItemID, oi.Quantity, oi.Price, oi.IsAuction,
	).Scan(&oi.ID)
	return apperr.Persistence("add order item", err)
}

// InsertPayment records a payment row
func (t *Tx) InsertPayment(ctx context.Context, p *models.Payment) error {
	err := t.queryRow(ctx, `
		INSERT INTO payments (order_id, amount, payment_method, status, transaction_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		p.OrderID, p.Amount, p.Method, p.Status, p.TransactionID, p.Timestamp.Unix(),
	).Scan(&p.ID)
	return apperr.Persistence("insert payment", err)
}

// MarkOrderPaid flips a pending order to paid. A second call is a conflict.
func (t *Tx) MarkOrderPaid(ctx context.Context, orderID int64) error {
	res, err := t.exec(ctx,
		`UPDATE orders SET status = ? WHERE id = ? AND status = ?`,
		string(models.OrderPaid), orderID, string(models.OrderPending))
	if err != nil {
		return apperr.Persistence("mark order paid", err)
	}
	return expectOne(res, "mark order paid", fmt.Errorf("%w: order %d is not pending", apperr.ErrConflict, orderID))
}
