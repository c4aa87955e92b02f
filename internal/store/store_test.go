package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronwang/bidding-app/internal/apperr"
	"github.com/aaronwang/bidding-app/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func createItem(t *testing.T, s *Store, it models.Item) models.Item {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.CreateItem(context.Background(), &it)
	}))
	return it
}

func plainHash(p string) (string, error) { return "h:" + p, nil }

func TestRebind(t *testing.T) {
	pg := runner{postgres: true}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := runner{}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestOpenReportsDriver(t *testing.T) {
	assert.Equal(t, DriverSQLite, newTestStore(t).Driver())

	_, err := Open("oracle", "x")
	assert.Error(t, err)
}

func TestWithTxWaitHonorsContext(t *testing.T) {
	s := newTestStore(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(context.Background(), func(tx *Tx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ran := false
	err := s.WithTx(ctx, func(tx *Tx) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)

	close(release)
	require.NoError(t, <-done)

	t.Run("section is free again", func(t *testing.T) {
		assert.NoError(t, s.WithTx(context.Background(), func(tx *Tx) error { return nil }))
	})
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Seed(ctx, plainHash, time.Now()))
	require.NoError(t, s.Seed(ctx, plainHash, time.Now()), "seeding twice is a no-op")

	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 5)

	admin, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
	assert.Equal(t, "h:admin", admin.PasswordHash)

	user, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, user.IsAdmin)

	_, err = s.GetUserByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateUserDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.CreateUser(ctx, "bob", "x", false)
		return err
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.CreateUser(ctx, "bob", "y", false)
		return err
	})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestCommitBid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	it := createItem(t, s, models.Item{
		Name: "Chair", ListingType: models.ListingAuction,
		CurrentBid: decimal.NewFromInt(100), EndTime: time.Now().Add(time.Hour).Unix(),
	})

	t.Run("higher bid at current version commits", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx *Tx) error {
			if err := tx.CommitBid(ctx, it.ID, 7, decimal.NewFromInt(150), 1); err != nil {
				return err
			}
			_, err := tx.InsertBid(ctx, it.ID, 7, decimal.NewFromInt(150), time.Now())
			return err
		})
		require.NoError(t, err)

		got, err := s.GetItem(ctx, it.ID)
		require.NoError(t, err)
		assert.True(t, got.CurrentBid.Equal(decimal.NewFromInt(150)))
		assert.Equal(t, int64(7), got.BidderID)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx *Tx) error {
			return tx.CommitBid(ctx, it.ID, 8, decimal.NewFromInt(500), 1)
		})
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("lower bid is a conflict", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx *Tx) error {
			return tx.CommitBid(ctx, it.ID, 8, decimal.NewFromInt(120), 2)
		})
		assert.ErrorIs(t, err, apperr.ErrConflict)

		got, err := s.GetItem(ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("history is recorded", func(t *testing.T) {
		bids, err := s.ListBids(ctx, it.ID)
		require.NoError(t, err)
		require.Len(t, bids, 1)
		assert.Equal(t, int64(7), bids[0].UserID)
	})
}

func TestCommitBidRejectsFixedItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	it := createItem(t, s, models.Item{Name: "Mug", ListingType: models.ListingFixed, FixedPrice: decimal.NewFromInt(20), Inventory: 3, EndTime: time.Now().Add(time.Hour).Unix()})

	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.CommitBid(ctx, it.ID, 1, decimal.NewFromInt(50), 1)
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRetireAuctionOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	it := createItem(t, s, models.Item{Name: "Coin", ListingType: models.ListingAuction, EndTime: time.Now().Unix() - 1})

	var results []bool
	for i := 0; i < 2; i++ {
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			ok, err := tx.RetireAuction(ctx, it.ID)
			results = append(results, ok)
			return err
		}))
	}
	assert.Equal(t, []bool{true, false}, results)
}

func TestDecrementInventoryNeverNegative(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	it := createItem(t, s, models.Item{Name: "Mug", ListingType: models.ListingFixed, FixedPrice: decimal.NewFromInt(20), Inventory: 5})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		oversel int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx *Tx) error {
				return tx.DecrementInventory(ctx, it.ID, 1)
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, apperr.ErrOversell) {
				oversel++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 5, oversel)
	got, err := s.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Inventory)
}

func TestCartUpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	it := createItem(t, s, models.Item{Name: "Mug", ListingType: models.ListingFixed, FixedPrice: decimal.NewFromInt(20), Inventory: 5})

	for _, qty := range []int{2, 3} {
		require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
			return tx.UpsertCart(ctx, 1, it.ID, qty, decimal.NewFromInt(20), time.Now())
		}))
	}

	entries, err := s.CartEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Quantity)
	assert.Equal(t, "Mug", entries[0].ItemName)
	assert.False(t, entries[0].IsAuction)

	err = s.WithTx(ctx, func(tx *Tx) error { return tx.SetCartQuantity(ctx, 1, 999, 1) })
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOrderPaymentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	it := createItem(t, s, models.Item{Name: "Mug", ListingType: models.ListingFixed, FixedPrice: decimal.NewFromInt(20), Inventory: 5})

	order := models.Order{UserID: 1, TotalAmount: decimal.NewFromInt(40), Status: models.OrderPending, CreatedAt: time.Now()}
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.CreateOrder(ctx, &order); err != nil {
			return err
		}
		return tx.AddOrderItem(ctx, &models.OrderItem{OrderID: order.ID, ItemID: it.ID, Quantity: 2, Price: decimal.NewFromInt(20)})
	}))
	require.NotZero(t, order.ID)

	lines, err := s.OrderItems(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)

	pay := func() error {
		return s.WithTx(ctx, func(tx *Tx) error {
			if err := tx.MarkOrderPaid(ctx, order.ID); err != nil {
				return err
			}
			return tx.InsertPayment(ctx, &models.Payment{OrderID: order.ID, Amount: order.TotalAmount, Method: "card", Status: models.PaymentCompleted, TransactionID: "t1", Timestamp: time.Now()})
		})
	}
	require.NoError(t, pay())
	assert.ErrorIs(t, pay(), apperr.ErrConflict, "paid is terminal")

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)

	payments, err := s.Payments(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1, "rolled back second payment leaves no row")

	orders, err := s.ListOrders(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestAppendEventIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ev := models.NewEvent(models.EventBidCommitted)
	ev.ItemID = 1
	ev.Amount = decimal.NewFromInt(150)

	inserted, err := s.AppendEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.AppendEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := s.CountEvents(ctx, models.EventBidCommitted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
