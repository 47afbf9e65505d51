// Package api hosts the admin HTTP server that runs beside a crawl. Notable
// routes:
//   - GET /healthz and /readyz for liveness and store reachability.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for a snapshot of the running crawl.
//   - GET /v1/frontier, /v1/terms and /v1/pages/{page_id}/occurrences for
//     read-only inspection of the index store.
package api
