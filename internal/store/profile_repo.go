package store

import (
	"context"
	"time"
)

// StatusDeleted marks a tombstone row. Its handle belonged to a deleted
// profile and must never be reissued.
const StatusDeleted = "deleted"

// ProfileRecord is one persisted profile.
type ProfileRecord struct {
	// Handle is the primary key.
	Handle string
	// Name is denormalized for listings.
	Name string
	// Status is "active", "passive", or StatusDeleted.
	Status string
	// Settings is the profile's opaque key/value form, unknown keys included.
	Settings map[string]string
	// UpdatedAt is the timestamp of the event that produced this row.
	UpdatedAt time.Time
}

// ProfileRepository persists profiles as opaque key/value maps.
type ProfileRepository interface {
	// UpsertProfile inserts the record or replaces an older version of it.
	UpsertProfile(ctx context.Context, rec ProfileRecord) error
	// LoadProfiles returns every stored record ordered by creation.
	LoadProfiles(ctx context.Context) ([]ProfileRecord, error)
}
