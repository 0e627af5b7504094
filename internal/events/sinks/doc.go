// Package sinks implements concrete lifecycle event consumers: structured
// logging, Prometheus counters, and repository-backed persistence. Each sink
// satisfies events.Sink and is safe for repeated Consume/Close cycles.
package sinks
