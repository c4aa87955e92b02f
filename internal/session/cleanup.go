package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cleanup periodically evicts idle sessions
type Cleanup struct {
	store    *Store
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCleanup(store *Store, interval, ttl time.Duration, logger *slog.Logger) *Cleanup {
	return &Cleanup{
		store:    store,
		interval: interval,
		ttl:      ttl,
		logger:   logger.With("component", "session-cleanup"),
	}
}

// Start launches the sweep loop; Stop ends it
func (c *Cleanup) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

func (c *Cleanup) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("session cleanup started", "interval", c.interval, "ttl", c.ttl)
	for {
		select {
		case now := <-ticker.C:
			if n := c.store.Sweep(now, c.ttl); n > 0 {
				c.logger.Info("evicted idle sessions", "count", n, "remaining", c.store.Len())
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cleanup) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
