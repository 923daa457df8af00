package sandbox

import (
	"context"
	"sync"
)

// Invalidation announces that the cached policies of a (table, group) pair
// are stale. An empty TableID or GroupID matches every table or group.
type Invalidation struct {
	TableID string `json:"table_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

// Bus distributes invalidations between server instances.
type Bus interface {
	Publish(ctx context.Context, inv Invalidation) error
	// Subscribe delivers invalidations to handler until ctx is done.
	Subscribe(ctx context.Context, handler func(Invalidation)) error
	Close() error
}

// LocalBus delivers invalidations to subscribers in the same process.
type LocalBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(Invalidation)
}

// NewLocalBus creates a LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(Invalidation))}
}

// Publish calls every handler synchronously.
func (b *LocalBus) Publish(_ context.Context, inv Invalidation) error {
	b.mu.RLock()
	handlers := make([]func(Invalidation), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(inv)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, handler func(Invalidation)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.handlers = make(map[int]func(Invalidation))
	b.mu.Unlock()
	return nil
}
