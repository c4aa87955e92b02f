package auction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aaronwang/bidding-app/internal/models"
	"github.com/aaronwang/bidding-app/internal/store"
	"github.com/aaronwang/bidding-app/internal/wire"
)

// CartTracker mirrors cart changes into the winner's open sessions
type CartTracker interface {
	SetUserCart(userID, itemID int64, qty int) int
}

// Clock finalizes expired auctions on a fixed interval. An item is awarded
// at most once: the mirror claim is checked-and-set under the book lock and
// the store only retires a row whose end_time is still set.
type Clock struct {
	book     *Book
	store    *store.Store
	notifier Notifier
	events   EventSink
	carts    CartTracker
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	sweepMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewClock builds a clock; carts may be nil when no sessions are tracked.
func NewClock(book *Book, st *store.Store, notifier Notifier, events EventSink, carts CartTracker, interval time.Duration, logger *slog.Logger) *Clock {
	return &Clock{
		book:     book,
		store:    st,
		notifier: notifier,
		events:   events,
		carts:    carts,
		interval: interval,
		logger:   logger.With("component", "auction-clock"),
		now:      time.Now,
	}
}

func (c *Clock) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.logger.Info("auction clock started", "interval", c.interval)
		for {
			select {
			case <-ticker.C:
				c.Sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Clock) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Sweep finalizes every expired auction and returns how many were awarded
// to a winner. A sweep that overlaps one already running does nothing.
func (c *Clock) Sweep(ctx context.Context) int {
	if !c.sweepMu.TryLock() {
		return 0
	}
	defer c.sweepMu.Unlock()

	awarded, retired := 0, 0
	for _, it := range c.book.Expired(c.now().Unix()) {
		if !c.book.TryFinalize(it.ID) {
			continue
		}
		won, err := c.finalize(ctx, it.ID)
		if err != nil {
			c.book.RevertFinalize(it.ID)
			c.logger.Error("failed to finalize auction", "item_id", it.ID, "error", err)
			continue
		}
		retired++
		if won {
			awarded++
		}
	}

	if retired > 0 {
		c.notifier.Broadcast(wire.ItemsList(c.book.Snapshot()))
	}
	return awarded
}

// finalize retires one auction and, when it has a bidder, deposits the lot
// in the winner's cart in the same transaction.
func (c *Clock) finalize(ctx context.Context, itemID int64) (bool, error) {
	var (
		final   models.Item
		retired bool
	)
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		final = cur
		retired, err = tx.RetireAuction(ctx, itemID)
		if err != nil || !retired {
			return err
		}
		final.EndTime = 0
		if !cur.HasBidder() {
			return nil
		}
		return tx.UpsertCart(ctx, cur.BidderID, itemID, 1, cur.CurrentBid, c.now())
	})
	if err != nil {
		return false, err
	}

	for _, bid := range c.book.Retire(final) {
		if bid.ConnID != "" {
			c.notifier.SendTo(bid.ConnID, wire.Encode(wire.EvBidRejected, wire.Int(itemID), wire.Money(bid.Amount), ReasonClosed))
		}
	}

	if !retired {
		// already finalized by an earlier run against the same database
		return false, nil
	}
	if final.State(c.now().Unix()) == models.ItemStateUnsold {
		c.logger.Info("auction ended unsold", "item_id", itemID)
		c.notifier.Broadcast(wire.ItemUpdate(final))
		return false, nil
	}

	c.logger.Info("auction awarded", "item_id", itemID, "winner_id", final.BidderID, "amount", final.CurrentBid.String())
	if c.carts != nil {
		c.carts.SetUserCart(final.BidderID, itemID, 1)
	}
	c.notifier.Broadcast(wire.AuctionEnded(final))

	ev := models.NewEvent(models.EventAuctionEnded)
	ev.ItemID = itemID
	ev.UserID = final.BidderID
	ev.Amount = final.CurrentBid
	ev.Version = final.Version
	c.events.Publish(ev)
	return true, nil
}
