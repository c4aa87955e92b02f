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

const itemColumns = `id, name, description, listing_type, current_bid, fixed_price, inventory, bidder_id, end_time, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (models.Item, error) {
	var (
		it       models.Item
		listing  string
		bidderID sql.NullInt64
	)
	err := row.Scan(&it.ID, &it.Name, &it.Description, &listing, &it.CurrentBid, &it.FixedPrice,
		&it.Inventory, &bidderID, &it.EndTime, &it.Version)
	if err != nil {
		return models.Item{}, err
	}
	it.ListingType = models.ListingType(listing)
	if bidderID.Valid {
		it.BidderID = bidderID.Int64
	}
	return it, nil
}

// GetItem loads one item row
func (r runner) GetItem(ctx context.Context, id int64) (models.Item, error) {
	it, err := scanItem(r.queryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, fmt.Errorf("%w: item %d", apperr.ErrNotFound, id)
	}
	if err != nil {
		return models.Item{}, apperr.Persistence("get item", err)
	}
	return it, nil
}

// ListItems returns every item ordered by id
func (r runner) ListItems(ctx context.Context) ([]models.Item, error) {
	rows, err := r.query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, apperr.Persistence("list items", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, apperr.Persistence("scan item", err)
		}
		items = append(items, it)
	}
	return items, apperr.Persistence("list items", rows.Err())
}

// ListBids retrieves the committed bid history for an item, oldest first
func (r runner) ListBids(ctx context.Context, itemID int64) ([]models.Bid, error) {
	rows, err := r.query(ctx,
		`SELECT id, item_id, user_id, amount, timestamp FROM bids WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, apperr.Persistence("list bids", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var (
			b  models.Bid
			ts int64
		)
		if err := rows.Scan(&b.ID, &b.ItemID, &b.UserID, &b.Amount, &ts); err != nil {
			return nil, apperr.Persistence("scan bid", err)
		}
		b.Timestamp = time.Unix(ts, 0).UTC()
		bids = append(bids, b)
	}
	return bids, apperr.Persistence("list bids", rows.Err())
}

// CreateItem inserts a new listing at version 1 and fills in its id
func (t *Tx) CreateItem(ctx context.Context, it *models.Item) error {
	it.Version = 1
	err := t.queryRow(ctx, `
		INSERT INTO items (name, description, listing_type, current_bid, fixed_price, inventory, bidder_id, end_time, version)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)
		RETURNING id`,
		it.Name, it.Description, string(it.ListingType), it.CurrentBid, it.FixedPrice, it.Inventory, it.EndTime, it.Version,
	).Scan(&it.ID)
	return apperr.Persistence("create item", err)
}

// CommitBid is the compare-and-set at the heart of bidding: it succeeds only
// when the row still carries expectVersion and amount beats the stored bid.
// Anything else is an ErrConflict for the caller to re-read and retry.
func (t *Tx) CommitBid(ctx context.Context, itemID, userID int64, amount decimal.Decimal, expectVersion int64) error {
	res, err := t.exec(ctx, `
		UPDATE items
		SET current_bid = ?, bidder_id = ?, version = version + 1
		WHERE id = ? AND version = ? AND current_bid < ? AND listing_type = 'auction' AND end_time <> 0`,
		amount, userID, itemID, expectVersion, amount,
	)
	if err != nil {
		return apperr.Persistence("commit bid", err)
	}
	return expectOne(res, "commit bid", fmt.Errorf("%w: item %d moved past version %d", apperr.ErrConflict, itemID, expectVersion))
}

// InsertBid appends a bid history record
func (t *Tx) InsertBid(ctx context.Context, itemID, userID int64, amount decimal.Decimal, at time.Time) (int64, error) {
	var id int64
	err := t.queryRow(ctx,
		`INSERT INTO bids (item_id, user_id, amount, timestamp) VALUES (?, ?, ?, ?) RETURNING id`,
		itemID, userID, amount, at.Unix(),
	).Scan(&id)
	return id, apperr.Persistence("insert bid", err)
}

// RetireAuction resets end_time to zero, which is the persisted
// "finalized" marker. It reports false when another finalization got there
// first.
func (t *Tx) RetireAuction(ctx context.Context, itemID int64) (bool, error) {
	res, err := t.exec(ctx,
		`UPDATE items SET end_time = 0 WHERE id = ? AND listing_type = 'auction' AND end_time <> 0`, itemID)
	if err != nil {
		return false, apperr.Persistence("retire auction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("retire auction", err)
	}
	return n == 1, nil
}

// DecrementInventory takes qty units of stock, refusing to go below zero
func (t *Tx) DecrementInventory(ctx context.Context, itemID int64, qty int) error {
	res, err := t.exec(ctx,
		`UPDATE items SET inventory = inventory - ? WHERE id = ? AND inventory >= ?`, qty, itemID, qty)
	if err != nil {
		return apperr.Persistence("decrement inventory", err)
	}
	return expectOne(res, "decrement inventory", fmt.Errorf("%w: item %d has fewer than %d units", apperr.ErrOversell, itemID, qty))
}

func expectOne(res sql.Result, op string, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence(op, err)
	}
	if n != 1 {
		return otherwise
	}
	return nil
}
