package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/bidding-app/internal/models"
)

const ChannelPrefix = "auction_events:"

// Channel is the Pub/Sub channel an event type is published on
func Channel(t models.EventType) string {
	return ChannelPrefix + string(t)
}

func bidKey(itemID int64) string    { return fmt.Sprintf("item:%d:current_bid", itemID) }
func bidderKey(itemID int64) string { return fmt.Sprintf("item:%d:highest_bidder", itemID) }

// RedisPublisher mirrors events onto Redis Pub/Sub and keeps the latest
// committed bid per item under plain keys for quick inspection.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisClient connects and pings
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func NewRedisPublisher(addr, password string, db int) (*RedisPublisher, error) {
	rdb, err := NewRedisClient(addr, password, db)
	if err != nil {
		return nil, err
	}
	return &RedisPublisher{client: rdb}, nil
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.client.TxPipeline()
	if ev.Type == models.EventBidCommitted {
		pipe.Set(ctx, bidKey(ev.ItemID), ev.Amount.String(), 0)
		pipe.Set(ctx, bidderKey(ev.ItemID), ev.UserID, 0)
	}
	pipe.Publish(ctx, Channel(ev.Type), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

// LatestBid reads the cached bid for an item. A missing key reads as zero.
func LatestBid(ctx context.Context, rdb *redis.Client, itemID int64) (decimal.Decimal, int64, error) {
	pipe := rdb.Pipeline()
	bidCmd := pipe.Get(ctx, bidKey(itemID))
	bidderCmd := pipe.Get(ctx, bidderKey(itemID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return decimal.Zero, 0, fmt.Errorf("failed to get item bid: %w", err)
	}

	bid := decimal.Zero
	if v, err := bidCmd.Result(); err == nil {
		if d, err := decimal.NewFromString(v); err == nil {
			bid = d
		}
	}

	var bidder int64
	if v, err := bidderCmd.Result(); err == nil {
		bidder, _ = strconv.ParseInt(v, 10, 64)
	}
	return bid, bidder, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
