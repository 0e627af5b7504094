package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 256).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
//   - Lossless: Emit waits for buffer space instead of dropping, and failed
//     sink batches are retried (default false).
//   - SinkAttempts: tries per batch and sink when Lossless (default 3).
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
	Lossless       bool
	SinkAttempts   int
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	defaultSinkAttempts   = 3
	retryBackoff          = 100 * time.Millisecond
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	switch {
	case !c.Lossless:
		c.SinkAttempts = 1
	case c.SinkAttempts <= 0:
		c.SinkAttempts = defaultSinkAttempts
	}
	return c
}

// Hub fans lifecycle events out to registered sinks. It is safe for
// concurrent use. By default it never blocks callers: when the buffer is full
// the event is dropped and counted. A Lossless hub blocks instead.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	dropLog      rate.Sometimes
	dropped      atomic.Int64
	droppedTotal atomic.Int64
	closed       atomic.Bool

	// sendMu is held shared by Emit and exclusively by Close, so no send can
	// land in the buffer after the final drain.
	sendMu    sync.RWMutex
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the background batching goroutine for sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  cfg.Logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues evt for batching. A lossy hub never blocks; a Lossless hub
// waits for buffer space. Events emitted after Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid lifecycle event", zap.Error(err))
		return
	}
	h.sendMu.RLock()
	defer h.sendMu.RUnlock()
	if h.closed.Load() {
		h.logger.Debug("discarding lifecycle event after close", zap.String("handle", evt.Handle))
		return
	}
	if h.cfg.Lossless {
		h.events <- evt
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.droppedTotal.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("lifecycle events dropped due to backpressure",
				zap.Int64("dropped", h.dropped.Swap(0)))
		})
	}
}

// Dropped returns the number of events discarded since the hub started.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.droppedTotal.Load()
}

// Close drains buffered events, flushes and closes sinks, and waits for the
// background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.sendMu.Lock()
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
		h.sendMu.Unlock()
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer    *time.Timer
		deadline <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, deadline = nil, nil
		}
		if len(batch) > 0 {
			h.flush(batch)
			batch = batch[:0]
		}
	}
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			switch {
			case len(batch) >= h.cfg.MaxBatchEvents:
				flush()
			case timer == nil:
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			timer, deadline = nil, nil
			flush()
		case <-h.stopCh:
			for drained := false; !drained; {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
					if len(batch) >= h.cfg.MaxBatchEvents {
						flush()
					}
				default:
					drained = true
				}
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		for attempt := 1; attempt <= h.cfg.SinkAttempts; attempt++ {
			err := h.consume(sink, snapshot)
			if err == nil {
				break
			}
			h.logger.Warn("event sink consume failed",
				zap.Error(err),
				zap.Int("batch", len(snapshot)),
				zap.Int("attempt", attempt),
			)
			if attempt == h.cfg.SinkAttempts || !h.backoff(attempt) {
				break
			}
		}
	}
}

func (h *Hub) consume(sink Sink, batch []Event) error {
	ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
	defer cancel()
	return sink.Consume(ctx, batch)
}

// backoff sleeps before the next attempt and reports false when the base
// context ends first.
func (h *Hub) backoff(attempt int) bool {
	t := time.NewTimer(time.Duration(attempt) * retryBackoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-h.cfg.BaseContext.Done():
		return false
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("event sink close failed", zap.Error(err))
		}
	}
}
