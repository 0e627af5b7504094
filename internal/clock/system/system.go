// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/crawl-profiles/internal/crawler"
)

var _ crawler.Clock = Clock{}

// Clock reads UTC wall time. It stamps profile recrawl checks and events.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
