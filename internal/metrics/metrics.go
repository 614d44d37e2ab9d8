// Package metrics exposes Prometheus collectors for the scan pipeline.
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
	pagesFetchedTotal      *prometheus.CounterVec
	fetchRetriesTotal      *prometheus.CounterVec
	itemsCollectedTotal    *prometheus.CounterVec
	itemsSelectedTotal     *prometheus.CounterVec
	activeWorkers          prometheus.Gauge
	rateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citypulse_pages_fetched_total",
				Help: "Total pages fetched, labeled by site and HTTP status.",
			},
			[]string{"site", "status"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citypulse_fetch_retries_total",
				Help: "Total fetch retries, labeled by site.",
			},
			[]string{"site"},
		)

		itemsCollectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citypulse_items_collected_total",
				Help: "Total items that entered the pipeline, labeled by kind.",
			},
			[]string{"kind"},
		)

		itemsSelectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citypulse_items_selected_total",
				Help: "Total items selected for analysis, labeled by city.",
			},
			[]string{"city"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "citypulse_active_workers",
				Help: "Number of workers currently executing a fetch task.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "citypulse_rate_limit_delays_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
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

// Handler returns the http.Handler exposing the collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a completed fetch attempt.
func ObserveFetch(site string, status int) {
	pagesFetchedTotal.WithLabelValues(SanitizeSite(site), strconv.Itoa(status)).Inc()
}

// ObserveRetry records a fetch retry.
func ObserveRetry(site string) {
	fetchRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveItem records an item entering the pipeline.
func ObserveItem(kind string) {
	itemsCollectedTotal.WithLabelValues(kind).Inc()
}

// ObserveSelected records items selected for a city.
func ObserveSelected(city string, n int) {
	itemsSelectedTotal.WithLabelValues(city).Add(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records one rate limit wait.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(d.Seconds())
}
