package bus

import (
	"context"
	"sync"

	"github.com/dmitrymomot/billingkit/pkg/entitlement"
)

// MemoryBus is an in-process fan-out bus. All methods are safe for
// concurrent use.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	bufferSize  int
	closed      bool
	done        chan struct{}
	cleanupWg   sync.WaitGroup
}

// NewMemoryBus creates a bus whose subscribers buffer up to bufferSize
// events. A minimum of 1 is enforced.
func NewMemoryBus(bufferSize int) *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[*subscriber]struct{}),
		bufferSize:  max(bufferSize, 1),
		done:        make(chan struct{}),
	}
}

// Subscribe returns a channel receiving every event published after the
// call. The channel is closed when ctx is done, when the subscriber falls
// behind, or when the bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context) <-chan entitlement.BusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan entitlement.BusEvent, b.bufferSize)}
	if b.closed {
		sub.close()
		return sub.ch
	}
	b.subscribers[sub] = struct{}{}

	if ctx.Done() != nil {
		b.cleanupWg.Add(1)
		go func() {
			defer b.cleanupWg.Done()
			select {
			case <-ctx.Done():
				b.unsubscribe(sub)
			case <-b.done:
			}
		}()
	}
	return sub.ch
}

// Publish implements entitlement.Bus. It never blocks on subscribers.
func (b *MemoryBus) Publish(_ context.Context, ev entitlement.BusEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for sub := range b.subscribers {
		if !sub.send(ev) {
			// Slow consumers are removed outside the read lock.
			go b.unsubscribe(sub)
		}
	}
	return nil
}

// Close closes every subscriber. Publish fails afterwards.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	for sub := range b.subscribers {
		sub.close()
	}
	clear(b.subscribers)
	b.mu.Unlock()

	b.cleanupWg.Wait()
	return nil
}

func (b *MemoryBus) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
	sub.close()
}

type subscriber struct {
	mu     sync.RWMutex
	ch     chan entitlement.BusEvent
	closed bool
}

func (s *subscriber) send(ev entitlement.BusEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}
