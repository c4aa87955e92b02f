// Package auction holds the in-memory item mirror and the background
// workers that act on it: the bid processor, which drains per-item bid
// queues through the store's compare-and-set, and the clock, which
// finalizes expired auctions.
package auction

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/models"
)

type entry struct {
	item      models.Item
	queue     []models.PendingBid
	finalized bool
}

// Book is the authoritative in-memory mirror of every item plus its queue
// of pending bids. All access goes through its methods; items are returned
// by value.
type Book struct {
	mu    sync.Mutex
	items map[int64]*entry
}

func NewBook() *Book {
	return &Book{items: make(map[int64]*entry)}
}

// Load replaces the mirror with rows read from the store
func (b *Book) Load(items []models.Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = make(map[int64]*entry, len(items))
	for _, it := range items {
		b.items[it.ID] = &entry{item: it}
	}
}

// Upsert stores the latest row for an item, keeping its queue
func (b *Book) Upsert(it models.Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.items[it.ID]; ok {
		e.item = it
		return
	}
	b.items[it.ID] = &entry{item: it}
}

// ApplyInventory refreshes a stock item after checkout. Stock only goes
// down, so a refresh read before a later checkout never raises the count.
// It returns the item as the mirror now holds it.
func (b *Book) ApplyInventory(it models.Item) models.Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.items[it.ID]
	if !ok {
		b.items[it.ID] = &entry{item: it}
		return it
	}
	if e.item.Inventory < it.Inventory {
		it.Inventory = e.item.Inventory
	}
	e.item = it
	return it
}

func (b *Book) Get(id int64) (models.Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.items[id]
	if !ok {
		return models.Item{}, false
	}
	return e.item, true
}

// Snapshot returns every item ordered by id
func (b *Book) Snapshot() []models.Item {
	b.mu.Lock()
	items := make([]models.Item, 0, len(b.items))
	for _, e := range b.items {
		items = append(items, e.item)
	}
	b.mu.Unlock()

	slices.SortFunc(items, byID)
	return items
}

// Enqueue appends a bid to the item's queue if the item is a live auction
// at unix time now.
func (b *Book) Enqueue(itemID int64, bid models.PendingBid, now int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.items[itemID]
	if !ok {
		return fmt.Errorf("%w: item %d", apperr.ErrNotFound, itemID)
	}
	if !e.item.IsAuction() {
		return apperr.Validation("Item is not an auction")
	}
	if !e.item.AcceptsBids(now) {
		return apperr.Validation("Auction has ended")
	}
	e.queue = append(e.queue, bid)
	return nil
}

// Dequeue pops the oldest pending bid for an item
func (b *Book) Dequeue(itemID int64) (models.PendingBid, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.items[itemID]
	if !ok || len(e.queue) == 0 {
		return models.PendingBid{}, false
	}
	bid := e.queue[0]
	e.queue[0] = models.PendingBid{}
	e.queue = e.queue[1:]
	return bid, true
}

// Pending lists the items with queued bids that belong to shard out of
// shards, ordered by id.
func (b *Book) Pending(shard, shards int) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []int64
	for id, e := range b.items {
		if len(e.queue) > 0 && ShardOf(id, shards) == shard {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func byID(a, c models.Item) int {
	return cmp.Compare(a.ID, c.ID)
}

// ShardOf maps an item to the worker that owns its queue
func ShardOf(itemID int64, shards int) int {
	return int(itemID % int64(shards))
}

// QueuedCount is the number of bids waiting across all items
func (b *Book) QueuedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, e := range b.items {
		n += len(e.queue)
	}
	return n
}

// KnownVersion is the version the mirror last saw for an item
func (b *Book) KnownVersion(itemID int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.items[itemID]; ok {
		return e.item.Version
	}
	return 0
}

// ApplyCommit records a committed bid. Versions never move backwards.
func (b *Book) ApplyCommit(committed models.Item) models.Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.items[committed.ID]
	if !ok {
		b.items[committed.ID] = &entry{item: committed}
		return committed
	}
	if committed.Version > e.item.Version {
		e.item.CurrentBid = committed.CurrentBid
		e.item.BidderID = committed.BidderID
		e.item.Version = committed.Version
	}
	return e.item
}

// SyncBidState copies the bid fields of a freshly read row into the mirror
func (b *Book) SyncBidState(fresh models.Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.items[fresh.ID]; ok {
		e.item.CurrentBid = fresh.CurrentBid
		e.item.BidderID = fresh.BidderID
		e.item.Version = fresh.Version
		e.item.EndTime = fresh.EndTime
	}
}

// Expired lists auctions whose deadline is at or before now and that have
// not been claimed for finalization.
func (b *Book) Expired(now int64) []models.Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []models.Item
	for _, e := range b.items {
		it := e.item
		if it.IsAuction() && it.EndTime != 0 && it.EndTime <= now && !e.finalized {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, byID)
	return out
}

// TryFinalize atomically claims an item for finalization. Only the first
// caller gets true.
func (b *Book) TryFinalize(itemID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.items[itemID]
	if !ok || e.finalized {
		return false
	}
	e.finalized = true
	return true
}

// RevertFinalize releases a claim whose persistence failed
func (b *Book) RevertFinalize(itemID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.items[itemID]; ok {
		e.finalized = false
	}
}

// Retire stores the finalized row and drops any bids still queued for it
func (b *Book) Retire(final models.Item) []models.PendingBid {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.items[final.ID]
	if !ok {
		b.items[final.ID] = &entry{item: final, finalized: true}
		return nil
	}
	e.item = final
	e.finalized = true
	dropped := e.queue
	e.queue = nil
	return dropped
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
