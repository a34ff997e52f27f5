package utils

import (
	"context"
	"sync"
)

// Broadcaster fans values out to every subscriber. Slow subscribers miss
// values instead of blocking the publisher.
type Broadcaster[T any] struct {
	mu        sync.RWMutex
	listeners map[chan T]struct{}
	closed    bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		listeners: make(map[chan T]struct{}),
	}
}

// Subscribe returns a channel that receives published values until ctx is
// done or the broadcaster is closed.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, buf int) <-chan T {
	ch := make(chan T, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.unsubscribe(ch)
	}()
	return ch
}

// Publish returns the number of subscribers that dropped the value.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for ch := range b.listeners {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.listeners {
		close(ch)
	}
	b.listeners = nil
	b.closed = true
}

func (b *Broadcaster[T]) unsubscribe(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[ch]; !ok {
		return
	}
	delete(b.listeners, ch)
	close(ch)
}
