package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-profiles/internal/events"
)

// LogSink writes one structured log line per lifecycle event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("event_id", evt.ID.String()),
			zap.String("kind", string(evt.Kind)),
			zap.String("handle", evt.Handle),
			zap.String("name", evt.Name),
			zap.String("status", string(evt.Status)),
			zap.Time("ts", evt.TS),
		}
		if evt.Field != "" {
			fields = append(fields, zap.String("field", evt.Field))
		}
		if evt.Kind == events.KindTerminated {
			fields = append(fields, zap.Int("queued_removed", evt.Removed))
		}
		s.logger.Info("profile lifecycle", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
