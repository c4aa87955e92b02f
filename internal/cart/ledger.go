// Package cart implements the purchase side of the marketplace: cart rows,
// checkout into orders with an inventory guard, and payment confirmation.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/models"
	"github.com/aaronwang/bidding-app/internal/store"
	"github.com/aaronwang/bidding-app/internal/wire"
)

// Mirror is the in-memory item cache refreshed after checkout.
// ApplyInventory must never raise the stock it already holds.
type Mirror interface {
	ApplyInventory(it models.Item) models.Item
}

type Broadcaster interface {
	Broadcast(payload []byte)
}

type EventSink interface {
	Publish(ev *models.Event)
}

// Ledger runs cart, order and payment operations against the store
type Ledger struct {
	store    *store.Store
	mirror   Mirror
	notifier Broadcaster
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time
}

func NewLedger(st *store.Store, mirror Mirror, notifier Broadcaster, events EventSink, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:    st,
		mirror:   mirror,
		notifier: notifier,
		events:   events,
		logger:   logger.With("component", "cart-ledger"),
		now:      time.Now,
	}
}

// AddToCart puts qty units of a fixed-price item in the user's cart,
// snapshotting the current price. Adding an item already in the cart
// overwrites its quantity.
func (l *Ledger) AddToCart(ctx context.Context, userID, itemID int64, qty int) error {
	if qty <= 0 {
		return apperr.Validation("Quantity must be positive")
	}
	return l.store.WithTx(ctx, func(tx *store.Tx) error {
		it, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if it.IsAuction() {
			return apperr.Validation("Auction items cannot be added to cart")
		}
		if it.Inventory < qty {
			return apperr.Validation("Insufficient inventory")
		}
		return tx.UpsertCart(ctx, userID, itemID, qty, it.UnitPrice(), l.now())
	})
}

// UpdateCart overwrites a cart row's quantity; qty <= 0 removes the row.
func (l *Ledger) UpdateCart(ctx context.Context, userID, itemID int64, qty int) error {
	return l.store.WithTx(ctx, func(tx *store.Tx) error {
		if qty <= 0 {
			return tx.DeleteCartRow(ctx, userID, itemID)
		}
		it, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if it.IsAuction() && qty != 1 {
			return apperr.Validation("Auction wins have a quantity of 1")
		}
		return tx.SetCartQuantity(ctx, userID, itemID, qty)
	})
}

func (l *Ledger) GetCart(ctx context.Context, userID int64) ([]models.CartEntry, error) {
	return l.store.CartEntries(ctx, userID)
}

// Checkout turns the user's cart into a pending order in one transaction.
// Fixed items are charged their add-time price and their inventory is
// decremented with a guard; auction lots are charged the winning bid. If
// any guard fails nothing is written.
func (l *Ledger) Checkout(ctx context.Context, userID int64) (models.Order, error) {
	var (
		order   models.Order
		touched []int64
	)
	err := l.store.WithTx(ctx, func(tx *store.Tx) error {
		entries, err := tx.CartEntries(ctx, userID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return apperr.Validation("Cart is empty")
		}

		order = models.Order{UserID: userID, Status: models.OrderPending, CreatedAt: l.now(), TotalAmount: decimal.Zero}
		lines := make([]models.OrderItem, 0, len(entries))
		for _, e := range entries {
			it, err := tx.GetItem(ctx, e.ItemID)
			if err != nil {
				return err
			}
			line := models.OrderItem{ItemID: it.ID, Quantity: e.Quantity, IsAuction: it.IsAuction()}
			if it.IsAuction() {
				line.Quantity = 1
				line.Price = it.UnitPrice()
			} else {
				if err := tx.DecrementInventory(ctx, it.ID, e.Quantity); err != nil {
					return err
				}
				line.Price = e.Price
				touched = append(touched, it.ID)
			}
			order.TotalAmount = order.TotalAmount.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
			lines = append(lines, line)
		}

		if err := tx.CreateOrder(ctx, &order); err != nil {
			return err
		}
		for i := range lines {
			lines[i].OrderID = order.ID
			if err := tx.AddOrderItem(ctx, &lines[i]); err != nil {
				return err
			}
		}
		order.Items = lines
		return tx.ClearCart(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrOversell) {
			l.logger.Info("checkout rejected", "user_id", userID, "error", err)
		}
		return models.Order{}, err
	}

	// The mirror is refreshed only once the write section has been released.
	for _, id := range touched {
		it, err := l.store.GetItem(ctx, id)
		if err != nil {
			l.logger.Warn("failed to refresh item after checkout", "item_id", id, "error", err)
			continue
		}
		// Refreshes from concurrent checkouts can land out of order.
		l.notifier.Broadcast(wire.ItemUpdate(l.mirror.ApplyInventory(it)))
	}

	l.logger.Info("order created", "order_id", order.ID, "user_id", userID, "total", order.TotalAmount.String())
	ev := models.NewEvent(models.EventOrderCreated)
	ev.OrderID = order.ID
	ev.UserID = userID
	ev.Amount = order.TotalAmount
	l.events.Publish(ev)

	return order, nil
}

// ProcessPayment records a completed payment for one of the user's pending
// orders and marks it paid. No external gateway is called.
func (l *Ledger) ProcessPayment(ctx context.Context, userID, orderID int64, method string) (models.Payment, error) {
	if err := wire.CheckText("payment method", method); err != nil {
		return models.Payment{}, err
	}

	var payment models.Payment
	err := l.store.WithTx(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID)
		}
		if err := tx.MarkOrderPaid(ctx, orderID); err != nil {
			return err
		}
		payment = models.Payment{
			OrderID:       orderID,
			Amount:        o.TotalAmount,
			Method:        method,
			Status:        models.PaymentCompleted,
			TransactionID: uuid.New().String(),
			Timestamp:     l.now(),
		}
		return tx.InsertPayment(ctx, &payment)
	})
	if err != nil {
		return models.Payment{}, err
	}

	l.logger.Info("payment completed", "order_id", orderID, "transaction_id", payment.TransactionID)
	ev := models.NewEvent(models.EventPaymentCompleted)
	ev.OrderID = orderID
	ev.UserID = userID
	ev.Amount = payment.Amount
	l.events.Publish(ev)

	return payment, nil
}

// Orders lists the user's orders, newest first
func (l *Ledger) Orders(ctx context.Context, userID int64) ([]models.Order, error) {
	return l.store.ListOrders(ctx, userID)
}
