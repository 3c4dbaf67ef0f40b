// Package eventbus provides a small typed pub/sub bus. Subscribers receive
// events on buffered channels; a slow subscriber drops events rather than
// blocking the publisher.
package eventbus

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

const DefaultBufferSize = 16

type subscriber[T any] struct {
	ch     chan T
	closed atomic.Bool
}

// EventBus fans events out to all current subscribers.
type EventBus[T any] struct {
	subscribers   *xsync.Map[string, *subscriber[T]]
	subscriberSeq atomic.Uint64
	bufferSize    int
	isShutdown    atomic.Bool
}

func New[T any]() *EventBus[T] {
	return NewWithBuffer[T](DefaultBufferSize)
}

func NewWithBuffer[T any](bufferSize int) *EventBus[T] {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &EventBus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber. The returned cleanup must be called
// when done; the channel is also closed when ctx is cancelled.
func (eb *EventBus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	id := strconv.FormatUint(eb.subscriberSeq.Add(1), 10)
	sub := &subscriber[T]{ch: make(chan T, eb.bufferSize)}
	eb.subscribers.Store(id, sub)

	cleanup := func() {
		eb.unsubscribe(id)
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return sub.ch, cleanup
}

// Publish delivers the event to every subscriber that has buffer space and
// returns the number of deliveries.
func (eb *EventBus[T]) Publish(event T) int {
	if eb.isShutdown.Load() {
		return 0
	}

	delivered := 0
	eb.subscribers.Range(func(_ string, sub *subscriber[T]) bool {
		if sub.closed.Load() {
			return true
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			// Full buffer: drop for this subscriber.
		}
		return true
	})
	return delivered
}

// Shutdown closes all subscriber channels. Publishing afterwards is a no-op.
func (eb *EventBus[T]) Shutdown() {
	if !eb.isShutdown.CompareAndSwap(false, true) {
		return
	}
	eb.subscribers.Range(func(id string, _ *subscriber[T]) bool {
		eb.unsubscribe(id)
		return true
	})
}

func (eb *EventBus[T]) unsubscribe(id string) {
	sub, ok := eb.subscribers.LoadAndDelete(id)
	if !ok {
		return
	}
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.ch)
	}
}
