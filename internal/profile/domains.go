package profile

import (
	"fmt"
	"sync"
)

// DomainCounter records per-domain crawl accounting for one profile.
type DomainCounter struct {
	Referrer string `json:"referrer"`
	Depth    int    `json:"depth"`
	Count    int    `json:"count"`
}

// String renders the counter in listing form.
func (c DomainCounter) String() string {
	return fmt.Sprintf("r=%s, d=%d, c=%d", c.Referrer, c.Depth, c.Count)
}

// DomainCounters is an insertion-ordered set of DomainCounter records. All
// methods are safe for concurrent use; increments are atomic per domain.
type DomainCounters struct {
	mu     sync.Mutex
	byName map[string]*DomainCounter
	order  []string
}

// NewDomainCounters returns an empty counter set.
func NewDomainCounters() *DomainCounters {
	return &DomainCounters{byName: make(map[string]*DomainCounter)}
}

// Inc increments the counter for domain, creating it with count 1 on first
// sight. Referrer and depth are only recorded at creation.
func (d *DomainCounters) Inc(domain, referrer string, depth int) DomainCounter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.incLocked(domain, referrer, depth)
}

// IncBelow increments the counter only while its count is below limit. It
// reports false, leaving the counter unchanged, once the limit is reached.
func (d *DomainCounters) IncBelow(domain, referrer string, depth, limit int) (DomainCounter, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.byName[domain]; ok && c.Count >= limit {
		return *c, false
	}
	return d.incLocked(domain, referrer, depth), true
}

func (d *DomainCounters) incLocked(domain, referrer string, depth int) DomainCounter {
	c, ok := d.byName[domain]
	if !ok {
		c = &DomainCounter{Referrer: referrer, Depth: depth}
		d.byName[domain] = c
		d.order = append(d.order, domain)
	}
	c.Count++
	return *c
}

// Get returns a copy of the counter for domain.
func (d *DomainCounters) Get(domain string) (DomainCounter, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byName[domain]
	if !ok {
		return DomainCounter{}, false
	}
	return *c, true
}

// Len returns the number of tracked domains.
func (d *DomainCounters) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// Names lists domains in insertion order. With detail each entry is rendered
// as "<domain>/r=<referrer>, d=<depth>, c=<count>". A non-negative limit caps
// the listing; when domains were left out the last entry ends with " ...".
func (d *DomainCounters) Names(detail bool, limit int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.order)
	truncated := false
	if limit >= 0 && n > limit {
		n = limit
		truncated = true
	}
	out := make([]string, 0, n)
	for _, name := range d.order[:n] {
		item := name
		if detail {
			item = name + "/" + d.byName[name].String()
		}
		out = append(out, item)
	}
	if truncated && len(out) > 0 {
		out[len(out)-1] += " ..."
	}
	return out
}

// Clear drops every counter.
func (d *DomainCounters) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byName = make(map[string]*DomainCounter)
	d.order = nil
}
