// Package metrics exposes Prometheus collectors for the place crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcomes recorded by ObserveItem.
const (
	OutcomeSuccess     = "success"
	OutcomePermanent   = "permanent"
	OutcomeExhausted   = "exhausted"
	OutcomeInterrupted = "interrupted"
)

var (
	itemsTotal                 *prometheus.CounterVec
	retriesTotal               prometheus.Counter
	attemptDurationSeconds     *prometheus.HistogramVec
	inFlightItems              prometheus.Gauge
	checkpointsTotal           *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	discoveredItemsTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placecrawler_items_total",
				Help: "Total number of backlog items resolved, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "placecrawler_retries_total",
				Help: "Total number of extraction retries after a timeout.",
			},
		)

		attemptDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "placecrawler_attempt_duration_seconds",
				Help:    "Histogram of single extraction attempt latencies, labeled by result.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"result"},
		)

		inFlightItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "placecrawler_in_flight_items",
				Help: "Number of extraction tasks currently running.",
			},
		)

		checkpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placecrawler_checkpoints_total",
				Help: "Total number of checkpoint writes, labeled by result.",
			},
			[]string{"result"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placecrawler_jobs_total",
				Help: "Total number of jobs finished, labeled by terminal phase.",
			},
			[]string{"phase"},
		)

		discoveredItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "placecrawler_discovered_items_total",
				Help: "Total number of item identifiers returned by discovery.",
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveItem counts one resolved backlog item.
func ObserveItem(outcome string) {
	Init()
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one retry.
func ObserveRetry() {
	Init()
	retriesTotal.Inc()
}

// ObserveAttempt records the duration of one extraction attempt.
func ObserveAttempt(result string, d time.Duration) {
	Init()
	attemptDurationSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// IncInFlight increments the in-flight gauge.
func IncInFlight() {
	Init()
	inFlightItems.Inc()
}

// DecInFlight decrements the in-flight gauge.
func DecInFlight() {
	Init()
	inFlightItems.Dec()
}

// ObserveCheckpoint counts a checkpoint write attempt.
func ObserveCheckpoint(ok bool) {
	Init()
	result := "ok"
	if !ok {
		result = "error"
	}
	checkpointsTotal.WithLabelValues(result).Inc()
}

// ObserveJob counts a finished job by its terminal phase.
func ObserveJob(phase string) {
	Init()
	jobsTotal.WithLabelValues(phase).Inc()
}

// ObserveDiscovered adds n discovered items.
func ObserveDiscovered(n int) {
	Init()
	if n > 0 {
		discoveredItemsTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
