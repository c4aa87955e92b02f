package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/models"
)

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// AppendEvent archives an event. Redelivered events are ignored, so the
// caller may ack either way; the return value reports whether a row was
// written.
func (s *Store) AppendEvent(ctx context.Context, ev *models.Event) (bool, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event: %w", err)
	}

	var inserted bool
	err = s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.exec(ctx, `
			INSERT INTO event_log (event_id, type, item_id, user_id, order_id, amount, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (event_id) DO NOTHING`,
			ev.EventID, string(ev.Type), nullID(ev.ItemID), nullID(ev.UserID), nullID(ev.OrderID),
			ev.Amount, string(payload), ev.Timestamp.Unix(),
		)
		if err != nil {
			return apperr.Persistence("append event", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Persistence("append event", err)
		}
		inserted = n == 1
		return nil
	})
	return inserted, err
}

// CountEvents returns how many events of type t have been archived
func (r runner) CountEvents(ctx context.Context, t models.EventType) (int, error) {
	var n int
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM event_log WHERE type = ?`, string(t)).Scan(&n)
	return n, apperr.Persistence("count events", err)
}
