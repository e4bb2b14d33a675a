package bridge

import (
	"context"
	"log/slog"
	"sync"
)

// Broadcaster fans out values from one source channel to many subscriber
// channels. A subscriber that falls behind loses its oldest value.
type Broadcaster[T any] struct {
	log         *slog.Logger
	subscribers map[int]chan T
	mu          sync.RWMutex
	nextID      int
	closed      bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T any](log *slog.Logger) *Broadcaster[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster[T]{
		log:         log,
		subscribers: make(map[int]chan T),
	}
}

// Subscribe returns an id for Unsubscribe and a channel buffered to size.
// After Run has returned the channel is already closed.
func (b *Broadcaster[T]) Subscribe(size int) (int, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, size)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Run forwards source to every subscriber until source closes or ctx is
// done, then closes every subscriber channel.
func (b *Broadcaster[T]) Run(ctx context.Context, source <-chan T) {
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-source:
			if !ok {
				return
			}
			b.broadcast(v)
		}
	}
}

func (b *Broadcaster[T]) broadcast(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
			b.log.Debug("subscriber behind, dropped oldest value", "subscriber", id)
		default:
		}
		select {
		case ch <- v:
		default:
			b.log.Warn("could not deliver to subscriber", "subscriber", id)
		}
	}
}

func (b *Broadcaster[T]) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
