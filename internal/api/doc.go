// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to submit a batch of URLs for scraping.
//   - GET /v1/runs/{run_id} for run status, counters, and failed URLs.
package api
