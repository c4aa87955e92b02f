// Package protocol parses inbound command lines, checks the session and
// dispatches to the auction, cart and admin operations. Every outcome,
// including a failure, becomes a reply frame; nothing here closes a
// connection.
package protocol

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/auction"
	"github.com/aaronwang/bidding-app/internal/cart"
	"github.com/aaronwang/bidding-app/internal/models"
	"github.com/aaronwang/bidding-app/internal/session"
	"github.com/aaronwang/bidding-app/internal/store"
	"github.com/aaronwang/bidding-app/internal/wire"
)

type Broadcaster interface {
	Broadcast(payload []byte)
}

type EventSink interface {
	Publish(ev *models.Event)
}

// Router maps commands to operations
type Router struct {
	store    *store.Store
	sessions *session.Store
	book     *auction.Book
	bids     *auction.Processor
	ledger   *cart.Ledger
	notifier Broadcaster
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time

	defaultAuction time.Duration
}

// Deps groups the collaborators a Router dispatches to
type Deps struct {
	Store          *store.Store
	Sessions       *session.Store
	Book           *auction.Book
	Bids           *auction.Processor
	Ledger         *cart.Ledger
	Notifier       Broadcaster
	Events         EventSink
	DefaultAuction time.Duration
}

func NewRouter(d Deps, logger *slog.Logger) *Router {
	return &Router{
		store:          d.Store,
		sessions:       d.Sessions,
		book:           d.Book,
		bids:           d.Bids,
		ledger:         d.Ledger,
		notifier:       d.Notifier,
		events:         d.Events,
		defaultAuction: d.DefaultAuction,
		logger:         logger.With("component", "router"),
		now:            time.Now,
	}
}

type handlerFunc func(ctx context.Context, connID string, f wire.Frame) ([][]byte, error)

func (r *Router) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		wire.CmdLogin:          r.login,
		wire.CmdGetItems:       r.getItems,
		wire.CmdBid:            r.bid,
		wire.CmdAddToCart:      r.addToCart,
		wire.CmdUpdateCart:     r.updateCart,
		wire.CmdGetCart:        r.getCart,
		wire.CmdCheckout:       r.checkout,
		wire.CmdProcessPayment: r.processPayment,
		wire.CmdGetOrders:      r.getOrders,
		wire.CmdAdmin:          r.admin,
	}
}

// Handle runs one line and returns the frames for the sender. A handler
// that panics costs the sender one error frame, not the process.
func (r *Router) Handle(ctx context.Context, connID, line string) (replies [][]byte) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("command handler panicked", "conn_id", connID, "panic", p, "stack", string(debug.Stack()))
			replies = [][]byte{wire.Error("Internal error")}
		}
	}()

	f, err := wire.Parse(line)
	if err != nil {
		return [][]byte{wire.Error("Invalid message format")}
	}

	h, ok := r.handlers()[f.Command]
	if !ok {
		return [][]byte{wire.Error("Unknown command")}
	}

	out, err := h(ctx, connID, f)
	if err != nil {
		return [][]byte{r.errorFrame(f.Command, connID, err)}
	}
	return out
}

func (r *Router) errorFrame(cmd, connID string, err error) []byte {
	log := r.logger.With("command", cmd, "conn_id", connID)
	switch {
	case errors.Is(err, apperr.ErrValidation):
		log.Debug("rejected command", "error", err)
		return wire.Error(detail(err, apperr.ErrValidation))
	case errors.Is(err, apperr.ErrAuth):
		log.Info("auth failure", "error", err)
		return wire.Error(detail(err, apperr.ErrAuth))
	case errors.Is(err, apperr.ErrNotFound):
		return wire.Error("Not found: " + detail(err, apperr.ErrNotFound))
	case errors.Is(err, apperr.ErrOversell):
		log.Info("checkout oversell", "error", err)
		return wire.Error("Checkout failed: insufficient inventory")
	case errors.Is(err, apperr.ErrConflict):
		return wire.Error("Conflict: " + detail(err, apperr.ErrConflict))
	default:
		log.Error("command failed", "error", err)
		return wire.Error("Internal error")
	}
}

// detail strips the sentinel prefix so only the human part is sent
func detail(err, kind error) string {
	return strings.TrimPrefix(err.Error(), kind.Error()+": ")
}

// authenticate touches the session named by token
func (r *Router) authenticate(token, connID string) (session.Session, error) {
	return r.sessions.Touch(token, connID)
}

// LOGIN|user|pass
func (r *Router) login(ctx context.Context, connID string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(2, 2); err != nil {
		return nil, err
	}
	u, err := r.store.GetUserByUsername(ctx, f.Args[0])
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Auth("Invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if !session.VerifyPassword(u.PasswordHash, f.Args[1]) {
		return nil, apperr.Auth("Invalid credentials")
	}

	sess := r.sessions.Create(u.ID, u.IsAdmin, connID)
	r.logger.Info("user logged in", "user_id", u.ID, "conn_id", connID)
	return [][]byte{
		wire.Encode(wire.EvLoginSuccess, sess.Token, wire.Int(u.ID), wire.Flag(u.IsAdmin)),
		wire.ItemsList(r.book.Snapshot()),
	}, nil
}

// GET_ITEMS, optionally followed by a token that is ignored
func (r *Router) getItems(_ context.Context, _ string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(0, 1); err != nil {
		return nil, err
	}
	return [][]byte{wire.ItemsList(r.book.Snapshot())}, nil
}

// BID|item|amount|token
func (r *Router) bid(_ context.Context, connID string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(3, 3); err != nil {
		return nil, err
	}
	sess, err := r.authenticate(f.Args[2], connID)
	if err != nil {
		return nil, err
	}
	itemID, err := wire.ParseID("item id", f.Args[0])
	if err != nil {
		return nil, err
	}
	amount, err := wire.ParseAmount("amount", f.Args[1])
	if err != nil {
		return nil, err
	}

	err = r.bids.Submit(itemID, models.PendingBid{
		UserID:      sess.UserID,
		Amount:      amount,
		ConnID:      connID,
		SubmittedAt: r.now(),
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{wire.Encode(wire.EvAck, "Bid queued")}, nil
}

// ADD_TO_CART|item|qty|token
func (r *Router) addToCart(ctx context.Context, connID string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(3, 3); err != nil {
		return nil, err
	}
	sess, err := r.authenticate(f.Args[2], connID)
	if err != nil {
		return nil, err
	}
	itemID, err := wire.ParseID("item id", f.Args[0])
	if err != nil {
		return nil, err
	}
	qty, err := wire.ParseQuantity(f.Args[1])
	if err != nil {
		return nil, err
	}

	if err := r.ledger.AddToCart(ctx, sess.UserID, itemID, qty); err != nil {
		return nil, err
	}
	r.sessions.SetCart(sess.Token, itemID, qty)
	return [][]byte{wire.Encode(wire.EvCartUpdated, wire.Int(itemID), wire.Int(int64(qty)))}, nil
}

// UPDATE_CART|item|qty|token
func (r *Router) updateCart(ctx context.Context, connID string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(3, 3); err != nil {
		return nil, err
	}
	sess, err := r.authenticate(f.Args[2], connID)
	if err != nil {
		return nil, err
	}
	itemID, err := wire.ParseID("item id", f.Args[0])
	if err != nil {
		return nil, err
	}
	qty, err := wire.ParseQuantity(f.Args[1])
	if err != nil {
		return nil, err
	}

	if err := r.ledger.UpdateCart(ctx, sess.UserID, itemID, qty); err != nil {
		return nil, err
	}
	qty = max(qty, 0)
	r.sessions.SetCart(sess.Token, itemID, qty)
	return [][]byte{wire.Encode(wire.EvCartUpdated, wire.Int(itemID), wire.Int(int64(qty)))}, nil
}

// GET_CART|token
func (r *Router) getCart(ctx context.Context, connID string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(1, 1); err != nil {
		return nil, err
	}
	sess, err := r.authenticate(f.Args[0], connID)
	if err != nil {
		return nil, err
	}
	entries, err := r.ledger.GetCart(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return [][]byte{wire.CartItems(entries)}, nil
}

// CHECKOUT|token
func (r *Router) checkout(ctx context.Context, connID string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(1, 1); err != nil {
		return nil, err
	}
	sess, err := r.authenticate(f.Args[0], connID)
	if err != nil {
		return nil, err
	}
	order, err := r.ledger.Checkout(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	r.sessions.ClearCart(sess.Token)
	return [][]byte{wire.Encode(wire.EvOrderCreated, wire.Int(order.ID), wire.Money(order.TotalAmount))}, nil
}

// PROCESS_PAYMENT|order|method|token
func (r *Router) processPayment(ctx context.Context, connID string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(3, 3); err != nil {
		return nil, err
	}
	sess, err := r.authenticate(f.Args[2], connID)
	if err != nil {
		return nil, err
	}
	orderID, err := wire.ParseID("order id", f.Args[0])
	if err != nil {
		return nil, err
	}
	payment, err := r.ledger.ProcessPayment(ctx, sess.UserID, orderID, f.Args[1])
	if err != nil {
		return nil, err
	}
	return [][]byte{wire.Encode(wire.EvPaymentSuccess, wire.Int(orderID), payment.TransactionID)}, nil
}

// GET_ORDERS|token
func (r *Router) getOrders(ctx context.Context, connID string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(1, 1); err != nil {
		return nil, err
	}
	sess, err := r.authenticate(f.Args[0], connID)
	if err != nil {
		return nil, err
	}
	orders, err := r.ledger.Orders(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return [][]byte{wire.OrdersList(orders)}, nil
}

// ADMIN|token|ADD_ITEM|name|type|price|inventory[|description[|durationHours]]
func (r *Router) admin(ctx context.Context, connID string, f wire.Frame) ([][]byte, error) {
	if err := f.Arity(2, 8); err != nil {
		return nil, err
	}
	sess, err := r.authenticate(f.Args[0], connID)
	if err != nil {
		return nil, err
	}

	// The persisted role is authoritative, not the flag cached at login.
	u, err := r.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin {
		return nil, apperr.Auth("Admin privileges required")
	}

	if f.Args[1] != wire.AdminAddItem {
		return nil, apperr.Validation("Unknown admin command")
	}
	if len(f.Args) < 6 {
		return nil, apperr.Validation("ADD_ITEM expects name, type, price and inventory")
	}
	return r.addItem(ctx, u.ID, f.Args[2:])
}

func (r *Router) addItem(ctx context.Context, adminID int64, args []string) ([][]byte, error) {
	name := strings.TrimSpace(args[0])
	if err := wire.CheckText("name", name); err != nil {
		return nil, err
	}
	listing, ok := models.ParseListingType(args[1])
	if !ok {
		return nil, apperr.Validation("listing type must be auction or fixed")
	}
	price, err := wire.ParseAmount("price", args[2])
	if err != nil {
		return nil, err
	}
	inventory, err := wire.ParseQuantity(args[3])
	if err != nil || inventory < 0 {
		return nil, apperr.Validation("invalid inventory %q", args[3])
	}

	it := models.Item{Name: name, ListingType: listing, Inventory: inventory}
	if len(args) > 4 {
		it.Description = strings.TrimSpace(args[4])
		if it.Description != "" {
			if err := wire.CheckText("description", it.Description); err != nil {
				return nil, err
			}
		}
	}

	duration := r.defaultAuction
	if len(args) > 5 && strings.TrimSpace(args[5]) != "" {
		hours, err := wire.ParseQuantity(args[5])
		if err != nil || hours <= 0 {
			return nil, apperr.Validation("invalid duration %q", args[5])
		}
		duration = time.Duration(hours) * time.Hour
	}

	switch listing {
	case models.ListingAuction:
		it.CurrentBid = price
		it.FixedPrice = decimal.Zero
		it.EndTime = r.now().Add(duration).Unix()
	case models.ListingFixed:
		it.FixedPrice = price
	}

	err = r.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateItem(ctx, &it)
	})
	if err != nil {
		return nil, err
	}

	r.book.Upsert(it)
	r.notifier.Broadcast(wire.ItemsList(r.book.Snapshot()))

	ev := models.NewEvent(models.EventItemCreated)
	ev.ItemID = it.ID
	ev.UserID = adminID
	ev.Amount = price
	r.events.Publish(ev)

	r.logger.Info("item added", "item_id", it.ID, "name", it.Name, "listing_type", it.ListingType, "admin_id", adminID)
	return [][]byte{wire.Encode(wire.EvAdminSuccess, "Item added: "+it.Name, wire.Int(it.ID))}, nil
}
