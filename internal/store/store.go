package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/aaronwang/bidding-app/internal/apperr"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// querier is the part of *sql.DB and *sql.Tx the read helpers need
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner executes queries written with '?' placeholders against either the
// pool or an open transaction, rewriting placeholders for Postgres.
type runner struct {
	q        querier
	postgres bool
}

func (r runner) rebind(query string) string {
	if !r.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r runner) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.rebind(query), args...)
}

func (r runner) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.rebind(query), args...)
}

func (r runner) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.rebind(query), args...)
}

// Store is the durable table set. Reads go straight to the pool; every write
// runs inside WithTx, which serializes writers so the version checks made by
// the bid processor are reliable.
type Store struct {
	runner
	db       *sql.DB
	driver   string
	// writeSem is the single write section; a channel so waiting honors ctx
	writeSem chan struct{}
}

// Tx is a serializable write transaction. It exposes the read helpers too,
// so code inside a transaction never touches the pool.
type Tx struct {
	runner
	tx *sql.Tx
}

// Open connects to the database and verifies the connection
func Open(driver, dsn string) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if driver == DriverSQLite {
		// One connection keeps pragmas in effect and makes the write section
		// the only writer SQLite ever sees.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	} else {
		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		runner: runner{q: db, postgres: driver == DriverPostgres},
		db:       db,
		driver:   driver,
		writeSem: make(chan struct{}, 1),
	}, nil
}

// Driver reports which SQL engine backs the store
func (s *Store) Driver() string {
	return s.driver
}

// InitSchema creates the necessary database tables
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := sqliteSchema
	if s.driver == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside the single write section. fn's error rolls the
// transaction back and is returned unchanged; a nil error commits. Waiting
// for the section gives up when ctx is done.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	select {
	case s.writeSem <- struct{}{}:
	case <-ctx.Done():
		return apperr.Persistence("wait for write section", ctx.Err())
	}
	defer func() { <-s.writeSem }()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.isolation()})
	if err != nil {
		return apperr.Persistence("begin", err)
	}
	tx := &Tx{runner: runner{q: sqlTx, postgres: s.runner.postgres}, tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return apperr.Persistence("commit", err)
	}
	return nil
}

func (s *Store) isolation() sql.IsolationLevel {
	if s.driver == DriverPostgres {
		return sql.LevelSerializable
	}
	// SQLite transactions are serializable already and the driver rejects
	// explicit levels other than the default.
	return sql.LevelDefault
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		listing_type TEXT NOT NULL DEFAULT 'auction',
		current_bid REAL NOT NULL DEFAULT 0,
		fixed_price REAL NOT NULL DEFAULT 0,
		inventory INTEGER NOT NULL DEFAULT 0 CHECK (inventory >= 0),
		bidder_id INTEGER,
		end_time INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES items(id),
		user_id INTEGER NOT NULL,
		amount REAL NOT NULL,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		total_amount REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		item_id INTEGER NOT NULL REFERENCES items(id),
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		is_auction INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS cart (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL REFERENCES items(id),
		quantity INTEGER NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		added_at INTEGER NOT NULL,
		UNIQUE (user_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		amount REAL NOT NULL,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS event_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		item_id INTEGER,
		user_id INTEGER,
		order_id INTEGER,
		amount REAL NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bids_item_id ON bids(item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		listing_type VARCHAR(16) NOT NULL DEFAULT 'auction',
		current_bid DECIMAL(12, 2) NOT NULL DEFAULT 0,
		fixed_price DECIMAL(12, 2) NOT NULL DEFAULT 0,
		inventory INTEGER NOT NULL DEFAULT 0 CHECK (inventory >= 0),
		bidder_id BIGINT,
		end_time BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL REFERENCES items(id),
		user_id BIGINT NOT NULL,
		amount DECIMAL(12, 2) NOT NULL,
		timestamp BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		total_amount DECIMAL(12, 2) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id),
		item_id BIGINT NOT NULL REFERENCES items(id),
		quantity INTEGER NOT NULL,
		price DECIMAL(12, 2) NOT NULL,
		is_auction BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS cart (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		item_id BIGINT NOT NULL REFERENCES items(id),
		quantity INTEGER NOT NULL,
		price DECIMAL(12, 2) NOT NULL DEFAULT 0,
		added_at BIGINT NOT NULL,
		UNIQUE (user_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id),
		amount DECIMAL(12, 2) NOT NULL,
		payment_method VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		transaction_id VARCHAR(64) NOT NULL,
		timestamp BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS event_log (
		id BIGSERIAL PRIMARY KEY,
		event_id VARCHAR(64) NOT NULL UNIQUE,
		type VARCHAR(64) NOT NULL,
		item_id BIGINT,
		user_id BIGINT,
		order_id BIGINT,
		amount DECIMAL(12, 2) NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bids_item_id ON bids(item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
}
