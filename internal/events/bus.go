package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/soundguardian/sentinel-go/internal/logging"
)

// defaultBufferSize is the per-consumer event channel capacity.
const defaultBufferSize = 256

// BusStats contains runtime statistics for monitoring.
type BusStats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Bus fans events out to registered consumers. Publishing never blocks: each
// consumer has a buffered channel drained by its own goroutine, and events
// for a full channel are dropped and counted.
type Bus struct {
	mu        sync.Mutex
	consumers []*subscription
	closed    atomic.Bool
	wg        sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64

	logger *slog.Logger
}

type subscription struct {
	consumer Consumer
	ch       chan Event
}

// NewBus creates an event bus with no consumers.
func NewBus() *Bus {
	return &Bus{logger: logging.ForService("events")}
}

// Register adds a consumer and starts its delivery goroutine. Registering
// after Shutdown is a no-op.
func (b *Bus) Register(consumer Consumer) {
	sub := &subscription{
		consumer: consumer,
		ch:       make(chan Event, defaultBufferSize),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return
	}
	b.consumers = append(b.consumers, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range sub.ch {
			sub.consumer.Handle(event)
			b.delivered.Add(1)
		}
	}()
}

// Publish delivers an event to all consumers without blocking. Events for a
// consumer whose channel is full are dropped. The lock is held across the
// sends so Shutdown cannot close a channel mid-publish; sends never block,
// so the hold is brief.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return
	}
	b.published.Add(1)

	for _, sub := range b.consumers {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			if b.logger != nil {
				b.logger.Warn("event dropped, consumer channel full",
					"consumer", sub.consumer.Name())
			}
		}
	}
}

// Shutdown closes all consumer channels and waits for in-flight deliveries.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if !b.closed.CompareAndSwap(false, true) {
		b.mu.Unlock()
		return
	}
	for _, sub := range b.consumers {
		close(sub.ch)
	}
	b.consumers = nil
	b.mu.Unlock()
	b.wg.Wait()
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}
