// Package store declares the persistence port for crawl profiles. The
// registry never calls it directly; lifecycle events reach it through the
// store sink, and startup reads it back through Restore.
package store
