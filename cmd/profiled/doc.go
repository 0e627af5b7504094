// Package main hosts the crawl profile service entrypoint.
//
// Architecture overview:
//   - Profiles: internal/profile holds one crawl job's settings, compiled URL/IP
//     rules, and per-domain counters. Admission checks run the rules in a fixed
//     order and count admitted URLs against the per-domain page cap atomically.
//   - Registry: internal/registry keeps profiles in two collections, active and
//     passive. Terminating a profile freezes it and asks the frontier to drop its
//     queued URLs; only passive profiles can be deleted.
//   - Frontier: a bounded in-memory queue sized by frontier.capacity receives
//     URLs admitted through the API.
//   - Events: every lifecycle transition is sent to a non-blocking hub that
//     batches events to the log, Prometheus, and (when db.dsn is set) Postgres.
//   - API: chi routes under /v1/profiles expose create, inspect, edit,
//     terminate, delete, and admission checks; /metrics serves Prometheus.
//
// Operational notes:
//   - Persistence is optional. With db.dsn set, profiles are restored at startup
//     in their stored order and kept current from the event stream.
//   - Admission requests are rate limited per profile (ratelimit.rps/burst).
//   - Tracing is off by default; telemetry.enabled installs an OpenTelemetry
//     tracer provider and a span per request.
//
// Quick checklist:
//   - Configure env vars: PROFILED_SERVER_PORT, PROFILED_FRONTIER_CAPACITY,
//     PROFILED_DB_DSN, PROFILED_AUTH_ENABLED/PROFILED_AUTH_API_KEY.
//   - Run locally: go run ./cmd/profiled -config config.yaml (or rely solely on
//     env overrides).
package main
