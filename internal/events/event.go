package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind denotes the lifecycle transition represented by an Event.
type Kind string

// Supported lifecycle kinds.
const (
	KindCreated    Kind = "PROFILE_CREATED"
	KindUpdated    Kind = "PROFILE_UPDATED"
	KindTerminated Kind = "PROFILE_TERMINATED"
	KindDeleted    Kind = "PROFILE_DELETED"
	KindRestored   Kind = "PROFILE_RESTORED"
)

// Status mirrors the registry's collection tag at the time of the event.
type Status string

// Profile statuses carried by events.
const (
	StatusActive  Status = "active"
	StatusPassive Status = "passive"
	StatusGone    Status = "deleted"
)

// Event captures a single profile lifecycle transition.
type Event struct {
	// ID uniquely identifies the event.
	ID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind names the transition.
	Kind Kind
	// Handle and Name identify the profile.
	Handle string
	Name   string
	// Status is the profile's collection after the transition.
	Status Status
	// Field is the setting changed by an update.
	Field string
	// Settings is a snapshot of the profile's key/value form; empty for deletes.
	Settings map[string]string
	// Removed counts queued URLs discarded by a termination.
	Removed int
}

// New stamps an event with a fresh ID.
func New(kind Kind, handle, name string, status Status, ts time.Time) Event {
	return Event{
		ID:     uuid.New(),
		TS:     ts.UTC(),
		Kind:   kind,
		Handle: handle,
		Name:   name,
		Status: status,
	}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("event id is required")
	}
	if e.Handle == "" {
		return errors.New("handle is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindCreated, KindTerminated, KindRestored, KindDeleted:
	case KindUpdated:
		if e.Field == "" {
			return errors.New("update requires field")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Removed < 0 {
		return errors.New("removed must be >= 0")
	}
	return nil
}
