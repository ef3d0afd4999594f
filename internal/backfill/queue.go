package backfill

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrQueueFull is returned when the in-memory buffer has no room.
var ErrQueueFull = errors.New("backfill queue buffer full")

// InMemoryQueue is an in-process queue for the serve runtime and tests.
type InMemoryQueue struct {
	ch      chan Message
	expired atomic.Int64
}

// NewInMemoryQueue creates an in-memory queue.
func NewInMemoryQueue(buffer int) *InMemoryQueue {
	if buffer <= 0 {
		buffer = 1
	}
	return &InMemoryQueue{
		ch: make(chan Message, buffer),
	}
}

// Publish enqueues a message without blocking.
func (q *InMemoryQueue) Publish(msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume hands messages to handler until context cancellation. Messages
// older than maxMessageAge are dropped unseen.
func (q *InMemoryQueue) Consume(
	ctx context.Context,
	handler func(Message) error,
	maxMessageAge time.Duration,
	nowFn func() time.Time,
) {
	if nowFn == nil {
		nowFn = time.Now
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.ch:
			if ShouldDropMessageByAge(msg, nowFn(), maxMessageAge) {
				q.expired.Add(1)
				continue
			}
			_ = handler(msg)
		}
	}
}

// Depth returns the number of queued messages.
func (q *InMemoryQueue) Depth() int {
	return len(q.ch)
}

// Expired returns how many messages were dropped for age.
func (q *InMemoryQueue) Expired() int64 {
	return q.expired.Load()
}
