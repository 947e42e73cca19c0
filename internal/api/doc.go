// Package api hosts the HTTP server, middleware, and REST handlers for the
// harvester. Notable routes:
//   - POST /api/scrape, GET /api/scrape/status, POST /api/scrape/stop to
//     drive the single harvest job.
//   - GET /api/papers, /api/papers/{id}, /api/papers/{id}/download and
//     /api/filters to browse harvested records.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
