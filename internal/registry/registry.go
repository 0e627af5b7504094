// Package registry owns every crawl profile known to the process. Profiles
// live in a single store keyed by handle and tagged active or passive, so a
// concurrent terminate and delete can never leave a profile in both
// collections or in neither.
package registry

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-profiles/internal/clock/system"
	"github.com/JakeFAU/crawl-profiles/internal/crawler"
	"github.com/JakeFAU/crawl-profiles/internal/events"
	"github.com/JakeFAU/crawl-profiles/internal/profile"
)

// Lifecycle errors. ErrReadOnlyField and ErrInvalidValue are the profile
// package sentinels so errors.Is works against either name.
var (
	ErrNotFound        = errors.New("profile not found")
	ErrAlreadyPassive  = errors.New("profile is already terminated")
	ErrStillActive     = errors.New("profile must be terminated before it can be deleted")
	ErrDuplicateHandle = errors.New("a profile with this handle already exists")
	ErrHandleRetired   = errors.New("handle belonged to a deleted profile")
	ErrReadOnlyField   = profile.ErrReadOnlyField
	ErrInvalidValue    = profile.ErrInvalidValue
)

// Status tags which collection a profile belongs to.
type Status string

// Collections.
const (
	StatusActive  Status = "active"
	StatusPassive Status = "passive"
)

// ParseStatus accepts "active" or "passive".
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusActive, StatusPassive:
		return s, nil
	default:
		return "", fmt.Errorf("unknown profile status %q", raw)
	}
}

type entry struct {
	profile *profile.Profile
	status  Status
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	// retired holds handles of deleted profiles; they are never reissued.
	retired map[string]struct{}

	remover crawler.WorkRemover
	emitter events.Emitter
	clock   crawler.Clock
	logger  *zap.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithWorkRemover sets the frontier port notified on Terminate.
func WithWorkRemover(r crawler.WorkRemover) Option {
	return func(reg *Registry) { reg.remover = r }
}

// WithEmitter sets the lifecycle event sink.
func WithEmitter(e events.Emitter) Option {
	return func(reg *Registry) { reg.emitter = e }
}

// WithClock overrides the event timestamp source.
func WithClock(c crawler.Clock) Option {
	return func(reg *Registry) { reg.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(reg *Registry) { reg.logger = l }
}

// New builds an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		retired: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.remover == nil {
		r.remover = crawler.RemoveFunc(func(string) int { return 0 })
	}
	if r.emitter == nil {
		r.emitter = events.Discard{}
	}
	if r.clock == nil {
		r.clock = system.New()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Create builds a profile from params and registers it as active.
func (r *Registry) Create(params profile.Params) (string, error) {
	p, err := profile.New(params)
	if err != nil {
		return "", fmt.Errorf("create profile: %w", err)
	}
	handle := p.Handle()

	r.mu.Lock()
	if err := r.insertableLocked(handle); err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.insertLocked(handle, p, StatusActive)
	ts := r.clock.Now()
	r.mu.Unlock()

	r.warnDegraded(p)
	r.logger.Info("profile created", zap.String("handle", handle), zap.String("name", p.Name()))
	r.emit(events.KindCreated, p, StatusActive, ts, func(e *events.Event) {
		e.Settings = p.Map()
	})
	return handle, nil
}

// Restore registers a profile rebuilt from its stored key/value form under
// status. Values are not validated; a missing handle is derived from the name.
func (r *Registry) Restore(settings map[string]string, status Status) (*profile.Profile, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	p := profile.FromMap(settings)
	handle := p.Handle()
	if handle == "" {
		return nil, fmt.Errorf("restore profile: %w", profile.ErrEmptyName)
	}
	if status == StatusPassive {
		p.Freeze()
	}

	r.mu.Lock()
	if err := r.insertableLocked(handle); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.insertLocked(handle, p, status)
	ts := r.clock.Now()
	r.mu.Unlock()

	r.warnDegraded(p)
	r.emit(events.KindRestored, p, status, ts, nil)
	return p, nil
}

// Retire marks handle as belonging to a deleted profile so Create and Restore
// refuse it. Restoring stored tombstones goes through here.
func (r *Registry) Retire(handle string) error {
	if handle == "" {
		return fmt.Errorf("retire profile: %w", profile.ErrEmptyName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[handle]; ok {
		return fmt.Errorf("%s: %w", handle, ErrDuplicateHandle)
	}
	r.retired[handle] = struct{}{}
	return nil
}

// Lookup returns the profile with handle from either collection.
func (r *Registry) Lookup(handle string) (*profile.Profile, Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[handle]
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", handle, ErrNotFound)
	}
	return e.profile, e.status, nil
}

// ListActive yields active profiles in creation order. Each range over the
// sequence starts from a fresh snapshot.
func (r *Registry) ListActive() iter.Seq[*profile.Profile] {
	return r.list(StatusActive)
}

// ListPassive yields terminated profiles in creation order.
func (r *Registry) ListPassive() iter.Seq[*profile.Profile] {
	return r.list(StatusPassive)
}

func (r *Registry) list(status Status) iter.Seq[*profile.Profile] {
	return func(yield func(*profile.Profile) bool) {
		for _, p := range r.snapshot(status) {
			if !yield(p) {
				return
			}
		}
	}
}

func (r *Registry) snapshot(status Status) []*profile.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*profile.Profile, 0, len(r.order))
	for _, handle := range r.order {
		if e := r.entries[handle]; e.status == status {
			out = append(out, e.profile)
		}
	}
	return out
}

// Counts returns the size of each collection.
func (r *Registry) Counts() (active, passive int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.status == StatusActive {
			active++
		} else {
			passive++
		}
	}
	return active, passive
}

// Update changes one setting on an active profile.
func (r *Registry) Update(handle, field, value string) error {
	if profile.IsReadOnly(field) {
		return fmt.Errorf("%s: %w", field, ErrReadOnlyField)
	}
	res, err := r.update(handle, field, value)
	if err != nil {
		return err
	}
	r.warnDegraded(res.profile)
	r.emit(events.KindUpdated, res.profile, res.status, res.ts, func(e *events.Event) {
		e.Field = field
		e.Settings = res.settings
	})
	return nil
}

type updateResult struct {
	profile  *profile.Profile
	status   Status
	ts       time.Time
	settings map[string]string
}

func (r *Registry) update(handle, field, value string) (updateResult, error) {
	// The read lock is held across Set so Terminate cannot interleave. The
	// timestamp is taken after Set and before the snapshot, so an event with
	// a later timestamp never carries older settings.
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[handle]
	if !ok || e.status != StatusActive {
		return updateResult{}, fmt.Errorf("%s: %w", handle, ErrNotFound)
	}
	if err := e.profile.Set(field, value); err != nil {
		if errors.Is(err, profile.ErrFrozen) {
			return updateResult{}, fmt.Errorf("%s: %w", handle, ErrAlreadyPassive)
		}
		return updateResult{}, fmt.Errorf("update %s: %w", handle, err)
	}
	ts := r.clock.Now()
	return updateResult{
		profile:  e.profile,
		status:   e.status,
		ts:       ts,
		settings: e.profile.Map(),
	}, nil
}

// Terminate moves an active profile to passive, freezes its settings, and
// asks the frontier to drop its queued work. Domain counters are kept.
func (r *Registry) Terminate(handle string) error {
	r.mu.Lock()
	e, ok := r.entries[handle]
	switch {
	case !ok:
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", handle, ErrNotFound)
	case e.status == StatusPassive:
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", handle, ErrAlreadyPassive)
	}
	e.status = StatusPassive
	e.profile.Freeze()
	p := e.profile
	ts := r.clock.Now()
	r.mu.Unlock()

	removed := r.remover.RemoveByProfile(handle)
	r.logger.Info("profile terminated", zap.String("handle", handle), zap.Int("queued_removed", removed))
	r.emit(events.KindTerminated, p, StatusPassive, ts, func(e *events.Event) {
		e.Settings = p.Map()
		e.Removed = removed
	})
	return nil
}

// Delete removes a passive profile. Active profiles must be terminated first.
func (r *Registry) Delete(handle string) error {
	r.mu.Lock()
	e, ok := r.entries[handle]
	switch {
	case !ok:
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", handle, ErrNotFound)
	case e.status == StatusActive:
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", handle, ErrStillActive)
	}
	delete(r.entries, handle)
	for i, h := range r.order {
		if h == handle {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.retired[handle] = struct{}{}
	ts := r.clock.Now()
	r.mu.Unlock()

	r.logger.Info("profile deleted", zap.String("handle", handle))
	r.emit(events.KindDeleted, e.profile, "", ts, nil)
	return nil
}

func (r *Registry) insertableLocked(handle string) error {
	if _, ok := r.entries[handle]; ok {
		return fmt.Errorf("%s: %w", handle, ErrDuplicateHandle)
	}
	if _, ok := r.retired[handle]; ok {
		return fmt.Errorf("%s: %w", handle, ErrHandleRetired)
	}
	return nil
}

func (r *Registry) insertLocked(handle string, p *profile.Profile, status Status) {
	r.entries[handle] = &entry{profile: p, status: status}
	r.order = append(r.order, handle)
}

func (r *Registry) warnDegraded(p *profile.Profile) {
	for _, w := range p.Degraded() {
		r.logger.Warn("rule pattern does not compile; it now matches nothing",
			zap.String("handle", p.Handle()),
			zap.String("field", w.Field),
			zap.String("pattern", w.Source),
			zap.String("error", w.Error),
		)
	}
}

func (r *Registry) emit(kind events.Kind, p *profile.Profile, status Status, ts time.Time, fill func(*events.Event)) {
	evtStatus := events.Status(status)
	if kind == events.KindDeleted {
		evtStatus = events.StatusGone
	}
	evt := events.New(kind, p.Handle(), p.Name(), evtStatus, ts)
	if fill != nil {
		fill(&evt)
	}
	r.emitter.Emit(evt)
}
