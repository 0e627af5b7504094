// Package events provides the lifecycle event type, the non-blocking hub, and
// the emitter interface the profile registry uses to announce changes. The
// hub batches events on a background goroutine and fans them out to
// pluggable sinks such as structured logs, Prometheus counters, or
// persistent storage.
package events
