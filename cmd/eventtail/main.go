// Command eventtail prints the auction events fanned out over Redis.
//
//	eventtail                       # every event type
//	eventtail -type bid_committed   # one type
//	eventtail -item 3               # cached bid for item 3, then exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aaronwang/bidding-app/internal/config"
	"github.com/aaronwang/bidding-app/internal/events"
	"github.com/aaronwang/bidding-app/internal/models"
)

func main() {
	itemID := flag.Int64("item", 0, "print the cached highest bid for this item and exit")
	eventType := flag.String("type", "", "only show events of this type")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb, err := events.NewRedisClient(addr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("failed to connect to Redis", "addr", addr, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *itemID > 0 {
		bid, bidder, err := events.LatestBid(ctx, rdb, *itemID)
		if err != nil {
			logger.Error("failed to read cached bid", "item_id", *itemID, "error", err)
			os.Exit(1)
		}
		fmt.Printf("item %d: current_bid=%s highest_bidder=%d\n", *itemID, bid.StringFixed(2), bidder)
		return
	}

	sub := events.NewSubscriber(rdb, logger)
	var types []models.EventType
	if *eventType != "" {
		types = append(types, models.EventType(*eventType))
	}
	if err := sub.Subscribe(ctx, types...); err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	defer sub.Close()

	msgs := make(chan *events.Message, 256)
	go func() {
		if err := sub.Listen(ctx, msgs); err != nil && ctx.Err() == nil {
			logger.Error("listener stopped", "error", err)
		}
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgs:
			fmt.Printf("%s %s\n", msg.Channel, msg.Payload)
		}
	}
}
