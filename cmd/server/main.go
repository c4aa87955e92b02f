package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aaronwang/bidding-app/internal/auction"
	"github.com/aaronwang/bidding-app/internal/cart"
	"github.com/aaronwang/bidding-app/internal/config"
	"github.com/aaronwang/bidding-app/internal/events"
	"github.com/aaronwang/bidding-app/internal/protocol"
	"github.com/aaronwang/bidding-app/internal/session"
	"github.com/aaronwang/bidding-app/internal/store"
	"github.com/aaronwang/bidding-app/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("database opened", "driver", st.Driver())

	if err := st.InitSchema(ctx); err != nil {
		return err
	}
	if cfg.SeedData {
		if err := st.Seed(ctx, session.Hasher(cfg.BcryptCost), time.Now()); err != nil {
			return err
		}
	}

	items, err := st.ListItems(ctx)
	if err != nil {
		return err
	}
	book := auction.NewBook()
	book.Load(items)
	logger.Info("item mirror loaded", "items", book.Len())

	dispatcher := events.NewDispatcher(logger, 1024, publishers(ctx, cfg, logger)...)
	dispatcher.Start()

	manager := websocket.NewManager(logger)
	sessions := session.NewStore()

	bids := auction.NewProcessor(book, st, manager, dispatcher, auction.ProcessorConfig{
		Workers: cfg.BidWorkers,
		Budget:  cfg.BidCommitBudget,
	}, logger)
	clock := auction.NewClock(book, st, manager, dispatcher, sessions, cfg.AuctionSweepInterval, logger)
	cleanup := session.NewCleanup(sessions, cfg.SessionSweepInterval, cfg.SessionTTL, logger)

	bids.Start(ctx)
	clock.Start(ctx)
	cleanup.Start(ctx)

	router := protocol.NewRouter(protocol.Deps{
		Store:          st,
		Sessions:       sessions,
		Book:           book,
		Bids:           bids,
		Ledger:         cart.NewLedger(st, book, manager, dispatcher, logger),
		Notifier:       manager,
		Events:         dispatcher,
		DefaultAuction: time.Duration(cfg.DefaultAuctionHours) * time.Hour,
	}, logger)

	stats := func() websocket.Stats {
		return websocket.Stats{
			Sessions:   sessions.Len(),
			Items:      book.Len(),
			QueuedBids: book.QueuedCount(),
		}
	}
	handler := websocket.NewHandler(ctx, manager, router, book, stats, logger)

	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     handler.SetupRoutes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bidding server listening", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", "error", err)
	}

	// Stop producers before the dispatcher so their last events get out.
	manager.CloseAll()
	bids.Stop()
	clock.Stop()
	cleanup.Stop()
	cancel()

	if err := dispatcher.Stop(); err != nil {
		logger.Warn("event publishers closed with errors", "error", err)
	}
	if n := dispatcher.Dropped(); n > 0 {
		logger.Warn("events dropped during run", "count", n)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// publishers connects to whichever brokers are configured. A broker that
// cannot be reached is logged and skipped; bidding does not depend on it.
func publishers(ctx context.Context, cfg *config.Config, logger *slog.Logger) []events.Publisher {
	var pubs []events.Publisher

	if cfg.NatsURL != "" {
		p, err := events.NewJetStreamPublisher(ctx, cfg.NatsURL)
		if err != nil {
			logger.Warn("NATS unavailable, archive stream disabled", "url", cfg.NatsURL, "error", err)
		} else {
			pubs = append(pubs, p)
		}
	}

	if cfg.RedisAddr != "" {
		p, err := events.NewRedisPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("Redis unavailable, event fan-out disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			pubs = append(pubs, p)
		}
	}

	if cfg.RabbitMQURL != "" {
		p, err := events.NewAMQPPublisher(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, order queue disabled", "error", err)
		} else {
			pubs = append(pubs, p)
		}
	}

	for _, p := range pubs {
		logger.Info("event publisher enabled", "publisher", p.Name())
	}
	return pubs
}
