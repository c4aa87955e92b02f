package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aaronwang/bidding-app/internal/config"
	"github.com/aaronwang/bidding-app/internal/events"
	"github.com/aaronwang/bidding-app/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if cfg.NatsURL == "" {
		logger.Error("NATS_URL is required for the archiver")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	archiver, err := events.NewArchiver(cfg.NatsURL, st, logger)
	if err != nil {
		logger.Error("failed to create archiver", "error", err)
		os.Exit(1)
	}
	defer archiver.Close()

	if err := archiver.Start(ctx); err != nil {
		logger.Error("failed to start archiver", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("archiver shutting down")
	cancel()
}
