// Package api hosts the HTTP server, middleware and handlers for the summary
// service. Notable routes:
//   - POST /createSummaryFromUrl ingests a caller-supplied URL.
//   - POST /searchSupremeLastWeekDecisions runs the Supreme Court preset search.
//   - GET /listLatestSummaries lists stored summaries, newest first.
//   - GET /healthz and /readyz for health checks, GET /metrics for Prometheus.
//
// Every ingestion route goes through Envelope, which guarantees one persisted
// document per call that gets past method gating.
package api
