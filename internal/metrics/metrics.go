// Package metrics exposes Prometheus collectors for the crawler and indexer.
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
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	frontierOffersTotal        *prometheus.CounterVec
	indexerTermsTotal          prometheus.Counter
	storeRetriesTotal          *prometheus.CounterVec
	relevanceRunsTotal         prometheus.Counter
	relevanceTermsTotal        prometheus.Counter
	relevanceDurationSeconds   prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	schedulerIndexedPagesGauge prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchcrawler_pages_total",
				Help: "Total number of pages processed, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchcrawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		frontierOffersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchcrawler_frontier_offers_total",
				Help: "Links offered to the frontier, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		indexerTermsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "searchcrawler_indexed_terms_total",
				Help: "Occurrence rows written by the indexer.",
			},
		)

		storeRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchcrawler_store_retries_total",
				Help: "Store operations retried after a transient failure, labeled by operation.",
			},
			[]string{"op"},
		)

		relevanceRunsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "searchcrawler_relevance_runs_total",
				Help: "Completed relevance recomputation passes.",
			},
		)

		relevanceTermsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "searchcrawler_relevance_terms_total",
				Help: "Terms rescored by relevance recomputation.",
			},
		)

		relevanceDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "searchcrawler_relevance_duration_seconds",
				Help:    "Histogram of relevance recomputation durations.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
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

		schedulerIndexedPagesGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "searchcrawler_indexed_pages",
				Help: "Pages present in the index as seen by the scheduler.",
			},
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
	Init()
	return promhttp.Handler()
}

// ObserveCrawl increments the page counters.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFrontierOffer counts a link handed to the frontier.
func ObserveFrontierOffer(outcome string) {
	Init()
	frontierOffersTotal.WithLabelValues(outcome).Inc()
}

// ObserveIndexedTerms adds n occurrence rows.
func ObserveIndexedTerms(n int) {
	Init()
	indexerTermsTotal.Add(float64(n))
}

// ObserveStoreRetry counts one retry of op.
func ObserveStoreRetry(op string) {
	Init()
	storeRetriesTotal.WithLabelValues(op).Inc()
}

// ObserveRelevanceRun records a finished recomputation pass.
func ObserveRelevanceRun(terms int, duration time.Duration) {
	Init()
	relevanceRunsTotal.Inc()
	relevanceTermsTotal.Add(float64(terms))
	relevanceDurationSeconds.Observe(duration.Seconds())
}

// SetIndexedPages publishes the scheduler's page counter.
func SetIndexedPages(n int64) {
	Init()
	schedulerIndexedPagesGauge.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
