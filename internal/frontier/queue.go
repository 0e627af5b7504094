// Package frontier provides the in-process queue of admitted URLs.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-profiles/internal/crawler"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("frontier closed")

// Queue is a bounded FIFO of crawl work with context-aware operations.
// Unlike a plain channel it can drop every item belonging to one profile.
type Queue struct {
	mu       sync.Mutex
	items    []crawler.QueueItem
	capacity int
	closed   bool
	// changed is closed and replaced whenever items or closed change, waking
	// blocked Enqueue and Dequeue calls.
	changed chan struct{}
	logger  *zap.Logger
}

// NewQueue constructs a queue holding at most capacity items.
func NewQueue(capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		capacity: capacity,
		changed:  make(chan struct{}),
		logger:   logger,
	}
}

// Enqueue appends item, waiting for room or for ctx to end.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.broadcastLocked()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Dequeue pops the oldest item, waiting for one or for ctx to end. A closed
// queue still hands out what it holds before reporting ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = crawler.QueueItem{}
			q.items = q.items[1:]
			q.broadcastLocked()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return crawler.QueueItem{}, ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// RemoveByProfile drops every queued item tagged with handle and reports
// how many were removed.
func (q *Queue) RemoveByProfile(handle string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.Handle == handle {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	clear(q.items[len(kept):])
	q.items = kept
	if removed > 0 {
		q.broadcastLocked()
		q.logger.Info("discarded queued work", zap.String("handle", handle), zap.Int("removed", removed))
	}
	return removed
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting work. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

var _ crawler.Frontier = (*Queue)(nil)
