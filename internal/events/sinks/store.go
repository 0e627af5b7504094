package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-profiles/internal/events"
	"github.com/JakeFAU/crawl-profiles/internal/store"
)

// StoreSink persists profiles through a store.ProfileRepository. Within a
// batch only the newest event per handle is written. Deleted profiles are
// kept as tombstone rows so their handles stay retired across restarts.
type StoreSink struct {
	repo   store.ProfileRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProfileRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses the batch per handle, keeping the event with the latest
// timestamp (later arrival wins a tie), and applies the result in order of
// first appearance. Repository errors are returned after the remaining
// handles have been attempted.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[string]events.Event)
	var order []string
	for _, evt := range batch {
		prev, seen := latest[evt.Handle]
		if !seen {
			order = append(order, evt.Handle)
		} else if evt.TS.Before(prev.TS) {
			continue
		}
		latest[evt.Handle] = evt
	}

	var firstErr error
	for _, handle := range order {
		if err := s.apply(ctx, latest[handle]); err != nil {
			s.logger.Warn("persist profile failed", zap.String("handle", handle), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *StoreSink) apply(ctx context.Context, evt events.Event) error {
	switch evt.Kind {
	case events.KindRestored:
		return nil
	case events.KindDeleted:
		rec := store.ProfileRecord{
			Handle:    evt.Handle,
			Name:      evt.Name,
			Status:    store.StatusDeleted,
			UpdatedAt: evt.TS,
		}
		if err := s.repo.UpsertProfile(ctx, rec); err != nil {
			return fmt.Errorf("write tombstone: %w", err)
		}
		return nil
	default:
		rec := store.ProfileRecord{
			Handle:    evt.Handle,
			Name:      evt.Name,
			Status:    string(evt.Status),
			Settings:  evt.Settings,
			UpdatedAt: evt.TS,
		}
		if err := s.repo.UpsertProfile(ctx, rec); err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		return nil
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
