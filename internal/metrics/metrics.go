// Package metrics exposes Prometheus collectors for the summary service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"method", "route"},
	)

	ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summaries_ingest_total",
			Help: "Ingestion calls, labeled by endpoint, final status and error type.",
		},
		[]string{"endpoint", "status", "error_type"},
	)

	ingestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "summaries_ingest_duration_seconds",
			Help:    "Wall time of ingestion calls, labeled by endpoint and status.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"endpoint", "status"},
	)

	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summaries_fetch_total",
			Help: "Upstream fetches, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summaries_fetch_bytes_total",
			Help: "Response bytes read from upstream sites.",
		},
		[]string{"site"},
	)

	documentWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summaries_document_writes_total",
			Help: "Summary document writes, labeled by document status and write result.",
		},
		[]string{"status", "result"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "summaries_rate_limit_delay_seconds",
			Help:    "Time outbound requests spent waiting on the per-host limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"site"},
	)
)

// OtherSite labels upstream hosts that were not registered with TrackSite.
const OtherSite = "other"

var trackedSites sync.Map

// TrackSite registers the host of rawURL as a site label of its own. Hosts
// never tracked share the OtherSite label, which keeps caller-supplied URLs
// from growing the series count.
func TrackSite(rawURL string) {
	if site := SanitizeSite(rawURL); site != "unknown" {
		trackedSites.Store(site, struct{}{})
	}
}

func siteLabel(rawURL string) string {
	site := SanitizeSite(rawURL)
	if _, ok := trackedSites.Load(site); ok {
		return site
	}
	return OtherSite
}

// SanitizeSite sanitizes a URL or bare host to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveIngest records the outcome of one envelope invocation.
func ObserveIngest(endpoint, status, errorType string, duration time.Duration) {
	ingestTotal.WithLabelValues(endpoint, status, errorType).Inc()
	ingestDurationSeconds.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// ObserveFetch records an upstream fetch outcome ("2xx", "4xx", "timeout", ...).
func ObserveFetch(rawURL, outcome string) {
	fetchTotal.WithLabelValues(siteLabel(rawURL), outcome).Inc()
}

// ObserveFetchBytes adds to the per-site byte counter.
func ObserveFetchBytes(rawURL string, n int) {
	if n <= 0 {
		return
	}
	fetchBytesTotal.WithLabelValues(siteLabel(rawURL)).Add(float64(n))
}

// ObserveDocumentWrite records a persistence attempt.
func ObserveDocumentWrite(status string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	documentWritesTotal.WithLabelValues(status, result).Inc()
}

// ObserveRateLimitDelay records how long a request waited for a token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(siteLabel(host)).Observe(delay.Seconds())
}

// StatusClass maps an HTTP status code to "2xx".."5xx".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
