package crawler

import (
	"context"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// WorkRemover discards queued crawl work. The registry calls it when a
// profile is terminated so the frontier drops URLs tagged with that handle.
type WorkRemover interface {
	RemoveByProfile(handle string) int
}

// Frontier accepts admitted URLs for fetching.
type Frontier interface {
	WorkRemover
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Len() int
}
