package protocol

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aaronwang/bidding-app/internal/auction"
	"github.com/aaronwang/bidding-app/internal/cart"
	"github.com/aaronwang/bidding-app/internal/models"
	"github.com/aaronwang/bidding-app/internal/session"
	"github.com/aaronwang/bidding-app/internal/store"
)

// Seeded ids
const (
	chairID     = 1
	catalogueID = 4
	user1ID     = 1
)

type recorder struct {
	mu         sync.Mutex
	broadcasts []string
	direct     map[string][]string
}

func (r *recorder) Broadcast(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, string(payload))
}

func (r *recorder) SendTo(connID string, payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[connID] = append(r.direct[connID], string(payload))
	return true
}

func (r *recorder) has(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.broadcasts {
		if strings.HasPrefix(b, prefix) {
			return true
		}
	}
	return false
}

type sink struct {
	mu    sync.Mutex
	types []models.EventType
}

func (s *sink) Publish(ev *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, ev.Type)
}

func (s *sink) seen(t models.EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.types {
		if got == t {
			return true
		}
	}
	return false
}

type fixture struct {
	router   *Router
	store    *store.Store
	sessions *session.Store
	book     *auction.Book
	out      *recorder
	sink     *sink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.InitSchema(ctx))
	require.NoError(t, st.Seed(ctx, session.Hasher(bcrypt.MinCost), time.Now()))

	items, err := st.ListItems(ctx)
	require.NoError(t, err)
	book := auction.NewBook()
	book.Load(items)

	out := &recorder{direct: make(map[string][]string)}
	events := &sink{}
	sessions := session.NewStore()

	bids := auction.NewProcessor(book, st, out, events, auction.ProcessorConfig{Workers: 2, Budget: time.Second}, logger)
	bids.Start(ctx)
	t.Cleanup(bids.Stop)

	r := NewRouter(Deps{
		Store:          st,
		Sessions:       sessions,
		Book:           book,
		Bids:           bids,
		Ledger:         cart.NewLedger(st, book, out, events, logger),
		Notifier:       out,
		Events:         events,
		DefaultAuction: 24 * time.Hour,
	}, logger)

	return &fixture{router: r, store: st, sessions: sessions, book: book, out: out, sink: events}
}

func (f *fixture) send(connID, line string) []string {
	var frames []string
	for _, b := range f.router.Handle(context.Background(), connID, line) {
		frames = append(frames, string(b))
	}
	return frames
}

// login returns the session token for user
func (f *fixture) login(t *testing.T, connID, user, pass string) string {
	t.Helper()
	frames := f.send(connID, "LOGIN|"+user+"|"+pass)
	require.Len(t, frames, 2)
	fields := strings.Split(frames[0], "|")
	require.Equal(t, "LOGIN_SUCCESS", fields[0])
	require.True(t, strings.HasPrefix(frames[1], "ITEMS_LIST|"))
	return fields[1]
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	t.Run("success carries id and admin flag", func(t *testing.T) {
		frames := f.send("c1", "LOGIN|admin|admin")
		require.Len(t, frames, 2)
		fields := strings.Split(frames[0], "|")
		assert.Equal(t, []string{"LOGIN_SUCCESS", fields[1], "3", "1"}, fields)
		assert.Equal(t, 1, f.sessions.Len())
	})

	t.Run("bad credentials", func(t *testing.T) {
		assert.Equal(t, []string{"ERROR|Invalid credentials"}, f.send("c1", "LOGIN|user1|wrong"))
		assert.Equal(t, []string{"ERROR|Invalid credentials"}, f.send("c1", "LOGIN|nobody|x"))
	})

	t.Run("malformed frames never panic", func(t *testing.T) {
		assert.Equal(t, []string{"ERROR|Unknown command"}, f.send("c1", "DANCE|now"))
		assert.Equal(t, []string{"ERROR|Invalid message format"}, f.send("c1", "   "))

		frames := f.send("c1", "LOGIN|only-user")
		require.Len(t, frames, 1)
		assert.True(t, strings.HasPrefix(frames[0], "ERROR|LOGIN expects"))
	})
}

func TestSessionRequired(t *testing.T) {
	f := newFixture(t)
	for _, line := range []string{
		"BID|1|150|bogus",
		"ADD_TO_CART|4|1|bogus",
		"GET_CART|bogus",
		"CHECKOUT|bogus",
		"GET_ORDERS|bogus",
		"PROCESS_PAYMENT|1|card|bogus",
		"ADMIN|bogus|ADD_ITEM|Lamp|fixed|10|1",
	} {
		assert.Equal(t, []string{"ERROR|Invalid session"}, f.send("c1", line), line)
	}
}

func TestGetItems(t *testing.T) {
	f := newFixture(t)
	frames := f.send("c1", "GET_ITEMS")
	require.Len(t, frames, 1)
	rows := strings.Split(frames[0], "|")[1:]
	assert.Len(t, rows, 5)
	assert.Equal(t, "1,Antique Chair,auction,100.00,0.00,0,0", rows[0][:strings.LastIndex(rows[0], ",")])

	// a trailing token is tolerated
	assert.Len(t, f.send("c1", "GET_ITEMS|tok"), 1)
}

func TestBid(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "c1", "user1", "pass1")

	t.Run("queued and committed", func(t *testing.T) {
		assert.Equal(t, []string{"ACK|Bid queued"}, f.send("c1", "BID|1|150|"+token))
		require.Eventually(t, func() bool {
			it, _ := f.book.Get(chairID)
			return it.BidderID == user1ID
		}, 2*time.Second, 10*time.Millisecond)
		assert.True(t, f.out.has("ITEM_UPDATE|1,Antique Chair,auction,150.00"))
		assert.True(t, f.sink.seen(models.EventBidCommitted))
	})

	t.Run("rejected up front", func(t *testing.T) {
		assert.Equal(t, []string{"ERROR|Item is not an auction"}, f.send("c1", "BID|4|30|"+token))
		assert.Equal(t, []string{"ERROR|Not found: item 99"}, f.send("c1", "BID|99|30|"+token))
		assert.Equal(t, []string{`ERROR|invalid amount "-5"`}, f.send("c1", "BID|1|-5|"+token))
		assert.Equal(t, []string{`ERROR|invalid amount "1e99999999"`}, f.send("c1", "BID|1|1e99999999|"+token))
		assert.Equal(t, []string{"ERROR|amount has more than two decimal places"}, f.send("c1", "BID|1|150.001|"+token))
	})
}

func TestHandlerPanicBecomesErrorFrame(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "c1", "user1", "pass1")
	f.router.ledger = nil

	var frames []string
	require.NotPanics(t, func() { frames = f.send("c1", "GET_CART|"+token) })
	assert.Equal(t, []string{"ERROR|Internal error"}, frames)

	t.Run("router keeps serving", func(t *testing.T) {
		frames := f.send("c1", "GET_ITEMS")
		require.Len(t, frames, 1)
		assert.True(t, strings.HasPrefix(frames[0], "ITEMS_LIST|"))
	})
}

func TestCartFlow(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "c1", "user1", "pass1")

	assert.Equal(t, []string{"CART_UPDATED|4|2"}, f.send("c1", "ADD_TO_CART|4|2|"+token))
	sess, ok := f.sessions.Get(token)
	require.True(t, ok)
	assert.Equal(t, 2, sess.Cart[catalogueID])

	assert.Equal(t, []string{"CART_ITEMS|4,Auction Catalogue,2,20.00,0"}, f.send("c1", "GET_CART|"+token))
	assert.Equal(t, []string{"ERROR|Auction items cannot be added to cart"}, f.send("c1", "ADD_TO_CART|1|1|"+token))

	assert.Equal(t, []string{"CART_UPDATED|4|3"}, f.send("c1", "UPDATE_CART|4|3|"+token))

	frames := f.send("c1", "CHECKOUT|"+token)
	require.Len(t, frames, 1)
	fields := strings.Split(frames[0], "|")
	require.Equal(t, "ORDER_CREATED", fields[0])
	assert.Equal(t, "60.00", fields[2])
	orderID := fields[1]

	sess, _ = f.sessions.Get(token)
	assert.Empty(t, sess.Cart)
	it, _ := f.book.Get(catalogueID)
	assert.Equal(t, 47, it.Inventory, "mirror refreshed after checkout")
	assert.True(t, f.out.has("ITEM_UPDATE|4,Auction Catalogue,fixed,0.00,20.00,47"))

	assert.Equal(t, []string{"ERROR|Cart is empty"}, f.send("c1", "CHECKOUT|"+token))

	frames = f.send("c1", "PROCESS_PAYMENT|"+orderID+"|card|"+token)
	require.Len(t, frames, 1)
	assert.True(t, strings.HasPrefix(frames[0], "PAYMENT_SUCCESS|"+orderID+"|"))

	frames = f.send("c1", "GET_ORDERS|"+token)
	require.Len(t, frames, 1)
	assert.True(t, strings.HasPrefix(frames[0], "ORDERS_LIST|"+orderID+",60.00,paid,"))

	t.Run("paying twice conflicts", func(t *testing.T) {
		frames := f.send("c1", "PROCESS_PAYMENT|"+orderID+"|card|"+token)
		require.Len(t, frames, 1)
		assert.True(t, strings.HasPrefix(frames[0], "ERROR|Conflict: "))
	})

	t.Run("another user's order is not found", func(t *testing.T) {
		other := f.login(t, "c2", "user2", "pass2")
		frames := f.send("c2", "PROCESS_PAYMENT|"+orderID+"|card|"+other)
		require.Len(t, frames, 1)
		assert.True(t, strings.HasPrefix(frames[0], "ERROR|Not found: "))
	})

	t.Run("removing a line", func(t *testing.T) {
		f.send("c1", "ADD_TO_CART|5|1|"+token)
		assert.Equal(t, []string{"CART_UPDATED|5|0"}, f.send("c1", "UPDATE_CART|5|0|"+token))
		assert.Equal(t, []string{"CART_ITEMS"}, f.send("c1", "GET_CART|"+token))
	})
}

func TestAdminAddItem(t *testing.T) {
	f := newFixture(t)

	t.Run("requires admin", func(t *testing.T) {
		token := f.login(t, "c1", "user1", "pass1")
		assert.Equal(t, []string{"ERROR|Admin privileges required"}, f.send("c1", "ADMIN|"+token+"|ADD_ITEM|Lamp|fixed|10|3"))
	})

	token := f.login(t, "c9", "admin", "admin")

	t.Run("fixed item", func(t *testing.T) {
		assert.Equal(t, []string{"ADMIN_SUCCESS|Item added: Lamp|6"}, f.send("c9", "ADMIN|"+token+"|ADD_ITEM|Lamp|fixed|10|3|Brass"))
		it, ok := f.book.Get(6)
		require.True(t, ok)
		assert.Equal(t, models.ListingFixed, it.ListingType)
		assert.Equal(t, 3, it.Inventory)
		assert.True(t, f.out.has("ITEMS_LIST|"))
		assert.True(t, f.sink.seen(models.EventItemCreated))
	})

	t.Run("auction item with duration", func(t *testing.T) {
		before := time.Now().Unix()
		frames := f.send("c9", "ADMIN|"+token+"|ADD_ITEM|Clock|auction|75|1||2")
		assert.Equal(t, []string{"ADMIN_SUCCESS|Item added: Clock|7"}, frames)

		it, err := f.store.GetItem(context.Background(), 7)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(75).Equal(it.CurrentBid))
		assert.InDelta(t, before+2*3600, it.EndTime, 5)
	})

	t.Run("validation", func(t *testing.T) {
		assert.Equal(t, []string{"ERROR|listing type must be auction or fixed"}, f.send("c9", "ADMIN|"+token+"|ADD_ITEM|Rug|barter|10|1"))
		assert.Equal(t, []string{"ERROR|name contains a reserved character"}, f.send("c9", "ADMIN|"+token+"|ADD_ITEM|Rug,red|fixed|10|1"))
		assert.Equal(t, []string{"ERROR|Unknown admin command"}, f.send("c9", "ADMIN|"+token+"|DELETE_ITEM"))
	})
}
