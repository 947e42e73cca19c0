// Package metrics exposes Prometheus collectors for the harvester service.
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

// Record outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

var (
	harvestRecordsTotal        *prometheus.CounterVec
	harvestJobsTotal           *prometheus.CounterVec
	harvestActiveJobs          prometheus.Gauge
	harvestNavigationRetries   *prometheus.CounterVec
	harvestBatchDelaySeconds   *prometheus.HistogramVec
	ingestUploadBytesTotal     *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_records_total",
				Help: "Total number of harvested records, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		harvestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_jobs_total",
				Help: "Total number of harvest jobs finished, labeled by result.",
			},
			[]string{"result"},
		)

		harvestActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_jobs",
				Help: "Number of harvest jobs currently running (0 or 1).",
			},
		)

		harvestNavigationRetries = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_navigation_retries_total",
				Help: "Retried folder-tree navigation actions, labeled by action.",
			},
			[]string{"action"},
		)

		harvestBatchDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_batch_delay_seconds",
				Help:    "Histogram of pacing waits between flat-list batches.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"source"},
		)

		ingestUploadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_upload_bytes_total",
				Help: "Total bytes uploaded to blob storage, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_retries_total",
				Help: "Page and document fetches retried after a transient transport error, labeled by site.",
			},
			[]string{"site"},
		)

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
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

// ObserveRecord counts one record outcome for a source.
func ObserveRecord(source, outcome string) {
	Init()
	harvestRecordsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveJob counts a finished job.
func ObserveJob(result string) {
	Init()
	harvestJobsTotal.WithLabelValues(result).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	harvestActiveJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	harvestActiveJobs.Dec()
}

// ObserveNavigationRetry counts a retried navigation action.
func ObserveNavigationRetry(action string) {
	Init()
	harvestNavigationRetries.WithLabelValues(action).Inc()
}

// ObserveBatchDelay records the duration of a pacing wait.
func ObserveBatchDelay(source string, d time.Duration) {
	Init()
	harvestBatchDelaySeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveUpload adds uploaded bytes for the document's site.
func ObserveUpload(documentURL string, n int) {
	Init()
	if n > 0 {
		ingestUploadBytesTotal.WithLabelValues(SanitizeSite(documentURL)).Add(float64(n))
	}
}

// ObserveFetchRetry counts a retried fetch against the request's site.
func ObserveFetchRetry(rawURL string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
