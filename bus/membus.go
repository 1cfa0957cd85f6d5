package bus

import (
	"sync"

	"github.com/blockflow/blockflow/engine"
)

const defaultSubscriberBuffer = 256

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// Buffer is the per-subscriber channel capacity (default 256). A
	// subscriber that falls this far behind starts losing events.
	Buffer int
}

// MemBus is an in-process EventBus. Subscribers are keyed by run id, with
// the empty key holding the all-runs subscribers, so Publish touches at
// most two buckets. Delivery never blocks: a full subscriber drops.
type MemBus struct {
	mu      sync.RWMutex
	byRun   map[string][]*subscriber
	buffer  int
	closing bool
}

// NewMemBus creates an in-memory event bus.
func NewMemBus(cfg MemBusConfig) *MemBus {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &MemBus{
		byRun:  make(map[string][]*subscriber),
		buffer: buffer,
	}
}

// Publish delivers event to the subscribers of its run and to the all-runs
// subscribers. After Close it is a no-op.
func (b *MemBus) Publish(event engine.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closing {
		return
	}
	for _, sub := range b.byRun[event.RunID] {
		sub.offer(event)
	}
	if event.RunID != "" {
		for _, sub := range b.byRun[""] {
			sub.offer(event)
		}
	}
}

// Subscribe registers a subscriber for one run's events. The returned
// Subscription must be closed when done.
func (b *MemBus) Subscribe(runID string) Subscription {
	return b.add(runID)
}

// SubscribeAll registers a subscriber for every run's events. The returned
// Subscription must be closed when done.
func (b *MemBus) SubscribeAll() Subscription {
	return b.add("")
}

func (b *MemBus) add(key string) *subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan engine.Event, b.buffer)}
	b.byRun[key] = append(b.byRun[key], sub)
	return sub
}

// Close shuts the bus down. Every subscription's channel is closed and
// later Publish calls are dropped.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closing = true
	for _, subs := range b.byRun {
		for _, sub := range subs {
			sub.shut()
		}
	}
	return nil
}

type subscriber struct {
	mu   sync.Mutex
	ch   chan engine.Event
	done bool
}

// Events returns the subscription's delivery channel. It is closed when
// either the subscription or the bus closes.
func (s *subscriber) Events() <-chan engine.Event {
	return s.ch
}

// Close releases the subscription. Safe to call more than once.
func (s *subscriber) Close() error {
	s.shut()
	return nil
}

func (s *subscriber) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.done {
		s.done = true
		close(s.ch)
	}
}

// offer enqueues event without blocking. Events for a closed or full
// subscriber are lost; the runlog remains the complete record.
func (s *subscriber) offer(event engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	select {
	case s.ch <- event:
	default:
	}
}

var (
	_ EventBus     = (*MemBus)(nil)
	_ Subscription = (*subscriber)(nil)
)
