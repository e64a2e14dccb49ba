// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /api/screenshot captures a page and stores the image.
//   - GET /api/screenshots lists stored captures; DELETE /api/screenshots/{id}
//     removes one.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
