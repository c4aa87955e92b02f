// Package events fans committed state changes out to external brokers.
// Publishing runs on its own goroutine so the request path never waits on
// (or fails because of) a broker:
// 1. NATS JetStream, consumed by cmd/archiver into the event_log table
// 2. Redis Pub/Sub, tailed by operators with cmd/eventtail
// 3. RabbitMQ, order and payment events only
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aaronwang/bidding-app/internal/models"
)

// Publisher delivers one event to one broker
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev *models.Event) error
	Close() error
}

// Dispatcher queues events and hands them to every publisher in order
type Dispatcher struct {
	publishers []Publisher
	queue      chan *models.Event
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, buffer int, publishers ...Publisher) *Dispatcher {
	return &Dispatcher{
		publishers: publishers,
		queue:      make(chan *models.Event, max(buffer, 1)),
		timeout:    5 * time.Second,
		logger:     logger.With("component", "event-dispatcher"),
	}
}

// Start launches the delivery goroutine
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range d.queue {
			if err := d.deliver(ev); err != nil {
				d.logger.Warn("event delivery failed", "event_id", ev.EventID, "type", ev.Type, "error", err)
			}
		}
	}()

	names := make([]string, 0, len(d.publishers))
	for _, p := range d.publishers {
		names = append(names, p.Name())
	}
	d.logger.Info("event dispatcher started", "publishers", names)
}

// Publish queues ev without blocking. When the buffer is full the event is
// dropped and counted.
func (d *Dispatcher) Publish(ev *models.Event) {
	if len(d.publishers) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event buffer full, dropping event", "event_id", ev.EventID, "type", ev.Type)
	}
}

func (d *Dispatcher) deliver(ev *models.Event) error {
	var errs []error
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := p.Publish(ctx, ev)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Dropped reports how many events were discarded because the buffer was full
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Stop delivers what is already queued, then closes every publisher
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()

	var errs []error
	for _, p := range d.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
