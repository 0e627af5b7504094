// Package api hosts the HTTP server, middleware, and REST handlers for
// operating crawl profiles. Notable routes:
//   - GET /healthz / readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - /v1/profiles/... to create, inspect, edit, terminate, and delete
//     profiles, and to run admission checks against them.
//   - GET /v1/fields for the editable setting table.
package api
