// Package memory provides the bounded in-process task queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan weibo.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan weibo.QueueItem, capacity),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item weibo.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (weibo.QueueItem, error) {
	select {
	case <-ctx.Done():
		return weibo.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return weibo.QueueItem{}, errors.New("queue closed")
		}
		return item, nil
	}
}

// TryEnqueue pushes a task without blocking; it reports false when the queue
// is at capacity so the API can reject instead of stalling the request.
func (q *Queue) TryEnqueue(item weibo.QueueItem) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
