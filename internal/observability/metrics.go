package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolmesh",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames processed per session outcome.",
		},
		[]string{"outcome"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolmesh",
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently open sessions.",
		},
	)
	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolmesh",
			Subsystem: "session",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-session frame cap.",
		},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolmesh",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Tool dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"category", "tool", "success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolmesh",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total ops HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolmesh",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Ops HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesProcessed,
			sessionsActive,
			rateLimited,
			dispatchDuration,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrame(outcome string) {
	RegisterMetrics()
	framesProcessed.WithLabelValues(outcome).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	sessionsActive.Dec()
}

func RecordRateLimited() {
	RegisterMetrics()
	rateLimited.Inc()
}

func RecordDispatch(category, tool string, duration time.Duration, success bool) {
	RegisterMetrics()
	dispatchDuration.
		WithLabelValues(category, tool, strconv.FormatBool(success)).
		Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
