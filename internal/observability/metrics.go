package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sumgrid",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sumgrid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	dispatchDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sumgrid",
			Subsystem: "dispatch",
			Name:      "decisions_total",
			Help:      "Dispatch decisions by destination.",
		},
		[]string{"node", "destination"},
	)
	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sumgrid",
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Dispatch outcomes (success, retry, fallback, failure) by destination.",
		},
		[]string{"node", "destination", "outcome"},
	)
	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sumgrid",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Calls to the external model provider.",
		},
		[]string{"node", "status"},
	)
	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sumgrid",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			dispatchDecisions,
			dispatchOutcomes,
			providerRequests,
			providerDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDispatchDecision(node, destination string) {
	RegisterMetrics()
	dispatchDecisions.WithLabelValues(node, destination).Inc()
}

func RecordDispatchOutcome(node, destination, outcome string) {
	RegisterMetrics()
	dispatchOutcomes.WithLabelValues(node, destination, outcome).Inc()
}

func RecordProviderCall(node, status string, duration time.Duration) {
	RegisterMetrics()
	providerRequests.WithLabelValues(node, status).Inc()
	providerDuration.WithLabelValues(node, status).Observe(duration.Seconds())
}
