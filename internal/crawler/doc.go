// Package crawler defines the narrow ports shared by the profile registry,
// the frontier, and the admin surface. Concrete implementations live in
// sibling packages so the registry never depends on how work is queued.
package crawler
