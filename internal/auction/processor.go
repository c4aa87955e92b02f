package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/models"
	"github.com/aaronwang/bidding-app/internal/store"
	"github.com/aaronwang/bidding-app/internal/wire"
)

// Notifier delivers frames to live connections
type Notifier interface {
	Broadcast(payload []byte)
	SendTo(connID string, payload []byte) bool
}

// EventSink receives committed state changes for the outside world
type EventSink interface {
	Publish(ev *models.Event)
}

const (
	ReasonOutbid   = "Outbid"
	ReasonClosed   = "Auction closed"
	ReasonTimedOut = "Timed out"
	ReasonFailed   = "Bid failed"
)

var (
	errOutbid = errors.New("bid does not beat current bid")
	errClosed = errors.New("auction is not accepting bids")
)

// Processor drains the per-item bid queues. Items are spread over a fixed
// set of workers by id, so bids for one item are always handled by the
// same worker in arrival order.
type Processor struct {
	book     *Book
	store    *store.Store
	notifier Notifier
	events   EventSink
	logger   *slog.Logger

	budget     time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
	now        func() time.Time

	wake   []chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ProcessorConfig tunes the worker pool
type ProcessorConfig struct {
	Workers int
	Budget  time.Duration
}

func NewProcessor(book *Book, st *store.Store, notifier Notifier, events EventSink, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	workers := max(cfg.Workers, 1)
	p := &Processor{
		book:       book,
		store:      st,
		notifier:   notifier,
		events:     events,
		logger:     logger.With("component", "bid-processor"),
		budget:     cfg.Budget,
		backoffMin: 25 * time.Millisecond,
		backoffMax: 200 * time.Millisecond,
		now:        time.Now,
		wake:       make([]chan struct{}, workers),
	}
	for i := range p.wake {
		p.wake[i] = make(chan struct{}, 1)
	}
	return p
}

// Submit queues a bid and wakes the worker that owns the item. It only
// reports whether the bid was queued, never whether it won.
func (p *Processor) Submit(itemID int64, bid models.PendingBid) error {
	if bid.SubmittedAt.IsZero() {
		bid.SubmittedAt = p.now()
	}
	if err := p.book.Enqueue(itemID, bid, bid.SubmittedAt.Unix()); err != nil {
		return err
	}
	p.signal(ShardOf(itemID, len(p.wake)))
	return nil
}

func (p *Processor) signal(shard int) {
	select {
	case p.wake[shard] <- struct{}{}:
	default:
	}
}

// Start launches one goroutine per shard
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for shard := range p.wake {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx, shard)
		}()
	}
	p.logger.Info("bid processor started", "workers", len(p.wake), "budget", p.budget)
}

// Stop cancels the workers and waits for the bids in flight
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("bid processor stopped", "queued", p.book.QueuedCount())
}

func (p *Processor) work(ctx context.Context, shard int) {
	for {
		p.drain(ctx, shard)
		select {
		case <-ctx.Done():
			return
		case <-p.wake[shard]:
		}
	}
}

// drain takes one bid per pending item per pass until the shard is empty
func (p *Processor) drain(ctx context.Context, shard int) {
	for ctx.Err() == nil {
		ids := p.book.Pending(shard, len(p.wake))
		if len(ids) == 0 {
			return
		}
		for _, id := range ids {
			if bid, ok := p.book.Dequeue(id); ok {
				p.Process(ctx, id, bid)
			}
		}
	}
}

// Process runs one bid through the commit loop:
// 1. Drop it if the mirror says the auction is closed
// 2. Re-read the row inside the write section
// 3. Reject if the amount does not beat the stored bid (terminal)
// 4. Compare-and-set against the last known version
// 5. On a stale version, resync the mirror and retry until the budget runs out
func (p *Processor) Process(ctx context.Context, itemID int64, bid models.PendingBid) models.BidOutcome {
	log := p.logger.With("item_id", itemID, "user_id", bid.UserID, "amount", bid.Amount.String())

	item, ok := p.book.Get(itemID)
	if !ok || !item.AcceptsBids(p.now().Unix()) {
		log.Debug("bid dropped, auction closed")
		p.reject(itemID, bid, ReasonClosed)
		return models.BidExpired
	}

	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	backoff := p.backoffMin
	for attempt := 1; ; attempt++ {
		committed, previous, err := p.tryCommit(ctx, itemID, bid)
		switch {
		case err == nil:
			p.committed(committed, previous, bid)
			log.Info("bid committed", "version", committed.Version, "attempts", attempt)
			return models.BidCommitted

		case errors.Is(err, errOutbid):
			log.Debug("bid outbid", "attempts", attempt)
			p.reject(itemID, bid, ReasonOutbid)
			return models.BidOutbid

		case errors.Is(err, errClosed):
			p.reject(itemID, bid, ReasonClosed)
			return models.BidExpired

		case apperr.Retryable(err):
			log.Debug("stale version, retrying", "attempt", attempt, "error", err)

		case ctx.Err() != nil:
			log.Warn("bid commit budget exhausted", "attempts", attempt)
			p.reject(itemID, bid, ReasonTimedOut)
			return models.BidTimedOut

		default:
			log.Error("bid commit failed", "error", err)
			p.reject(itemID, bid, ReasonFailed)
			return models.BidFailed
		}

		select {
		case <-ctx.Done():
			log.Warn("bid commit budget exhausted", "attempts", attempt)
			p.reject(itemID, bid, ReasonTimedOut)
			return models.BidTimedOut
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, p.backoffMax)
	}
}

// tryCommit is a single check-and-commit cycle. It returns the committed
// row and the bid it replaced.
func (p *Processor) tryCommit(ctx context.Context, itemID int64, bid models.PendingBid) (models.Item, decimal.Decimal, error) {
	var (
		committed models.Item
		previous  decimal.Decimal
		stale     *models.Item
	)
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if !cur.AcceptsBids(p.now().Unix()) {
			return errClosed
		}
		if bid.Amount.LessThanOrEqual(cur.CurrentBid) {
			return errOutbid
		}

		known := p.book.KnownVersion(itemID)
		if cur.Version != known {
			stale = &cur
			return fmt.Errorf("%w: item %d at version %d, mirror has %d", apperr.ErrConflict, itemID, cur.Version, known)
		}

		if err := tx.CommitBid(ctx, itemID, bid.UserID, bid.Amount, known); err != nil {
			return err
		}
		if _, err := tx.InsertBid(ctx, itemID, bid.UserID, bid.Amount, p.now()); err != nil {
			return err
		}

		previous = cur.CurrentBid
		committed = cur
		committed.CurrentBid = bid.Amount
		committed.BidderID = bid.UserID
		committed.Version = known + 1
		return nil
	})
	if stale != nil {
		p.book.SyncBidState(*stale)
	}
	return committed, previous, err
}

func (p *Processor) committed(item models.Item, previous decimal.Decimal, bid models.PendingBid) {
	item = p.book.ApplyCommit(item)
	p.notifier.Broadcast(wire.ItemUpdate(item))

	ev := models.NewEvent(models.EventBidCommitted)
	ev.ItemID = item.ID
	ev.UserID = bid.UserID
	ev.Amount = bid.Amount
	ev.PreviousBid = previous
	ev.Version = item.Version
	p.events.Publish(ev)
}

// reject tells only the submitting connection; a closed connection simply
// misses it.
func (p *Processor) reject(itemID int64, bid models.PendingBid, reason string) {
	if bid.ConnID == "" {
		return
	}
	p.notifier.SendTo(bid.ConnID, wire.Encode(wire.EvBidRejected, wire.Int(itemID), wire.Money(bid.Amount), reason))
}
