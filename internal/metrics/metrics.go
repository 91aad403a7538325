package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doctranslate",
			Name:      "provider_requests_total",
			Help:      "Total model endpoint requests by model, call kind and result",
		},
		[]string{"model", "kind", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "doctranslate",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of model endpoint requests by model and call kind",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model", "kind"},
	)

	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doctranslate",
			Name:      "batches_total",
			Help:      "Translation batches by outcome (ok, fallback, contained)",
		},
		[]string{"outcome"},
	)

	unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doctranslate",
			Name:      "units_total",
			Help:      "Translated units by outcome (translated, failed)",
		},
		[]string{"outcome"},
	)

	imageAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doctranslate",
			Name:      "image_recognition_attempts_total",
			Help:      "Image recognition attempts by result",
		},
		[]string{"result"},
	)

	limiterWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "doctranslate",
			Name:      "limiter_wait_seconds",
			Help:      "Time spent waiting for the request gate",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doctranslate",
			Name:      "jobs_total",
			Help:      "HTTP jobs by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)
)

var initOnce sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(providerReqs, providerLatency, batchesTotal, unitsTotal, imageAttempts, limiterWait, jobsTotal)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProvider(model, kind, result string, dur time.Duration) {
	providerReqs.WithLabelValues(model, kind, result).Inc()
	providerLatency.WithLabelValues(model, kind).Observe(dur.Seconds())
}

func IncBatch(outcome string) { batchesTotal.WithLabelValues(outcome).Inc() }

func AddUnits(outcome string, n int) {
	if n > 0 {
		unitsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

func IncImageAttempt(result string) { imageAttempts.WithLabelValues(result).Inc() }

func ObserveLimiterWait(d time.Duration) { limiterWait.Observe(d.Seconds()) }

func IncJob(endpoint, result string) { jobsTotal.WithLabelValues(endpoint, result).Inc() }
