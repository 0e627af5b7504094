package frontier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-profiles/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, nil)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{Handle: "h1", URL: "https://a.example/"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "https://a.example/", got.URL)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	empty := NewQueue(1, nil)
	_, err := empty.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1, nil)
	require.NoError(t, full.Enqueue(context.Background(), crawler.QueueItem{Handle: "primed"}))
	err = full.Enqueue(ctx, crawler.QueueItem{Handle: "blocked"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, full.Len())
}

func TestQueueEnqueueWaitsForRoom(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, nil)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{URL: "first"}))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(context.Background(), crawler.QueueItem{URL: "second"})
	}()

	select {
	case <-done:
		t.Fatal("enqueue should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", item.URL)
	require.NoError(t, <-done)

	item, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "second", item.URL)
}

func TestQueueRemoveByProfile(t *testing.T) {
	t.Parallel()

	q := NewQueue(10, nil)
	for _, item := range []crawler.QueueItem{
		{Handle: "a", URL: "1"},
		{Handle: "b", URL: "2"},
		{Handle: "a", URL: "3"},
		{Handle: "c", URL: "4"},
	} {
		require.NoError(t, q.Enqueue(context.Background(), item))
	}

	require.Equal(t, 2, q.RemoveByProfile("a"))
	require.Zero(t, q.RemoveByProfile("missing"))
	require.Equal(t, 2, q.Len())

	var urls []string
	for q.Len() > 0 {
		item, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		urls = append(urls, item.URL)
	}
	require.Equal(t, []string{"2", "4"}, urls)
}

func TestQueueRemoveFreesRoom(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, nil)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{Handle: "gone"}))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(context.Background(), crawler.QueueItem{Handle: "kept"})
	}()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 1, q.RemoveByProfile("gone"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not resume after removal")
	}
	require.Equal(t, 1, q.Len())
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2, nil)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{URL: "left"}))
	q.Close()
	q.Close()

	require.True(t, errors.Is(q.Enqueue(context.Background(), crawler.QueueItem{}), ErrClosed))
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "left", item.URL)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
