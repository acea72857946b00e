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
			Namespace: "bladectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bladectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bladectl",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Completed session requests by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	sessionRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bladectl",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Time from send to callback for session requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)
	sessionPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bladectl",
			Subsystem: "session",
			Name:      "pending_requests",
			Help:      "Requests awaiting a response.",
		},
	)
	sessionQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bladectl",
			Subsystem: "session",
			Name:      "queued_frames",
			Help:      "Frames waiting in the send queue.",
		},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bladectl",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state machine transitions by target state.",
		},
		[]string{"state"},
	)
	sessionConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bladectl",
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Completed handshakes by kind (fresh|restored).",
		},
		[]string{"kind"},
	)
	sessionInbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bladectl",
			Subsystem: "session",
			Name:      "inbound_frames_total",
			Help:      "Inbound frames by classification.",
		},
		[]string{"kind"},
	)
	cacheNetcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bladectl",
			Subsystem: "cache",
			Name:      "netcasts_total",
			Help:      "Applied netcast commands by command and result.",
		},
		[]string{"command", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionRequests,
			sessionRequestDuration,
			sessionPending,
			sessionQueued,
			sessionTransitions,
			sessionConnects,
			sessionInbound,
			cacheNetcasts,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRequest records one completed session request. outcome is one of
// "ok", "error" or "timeout".
func RecordRequest(method, outcome string, duration time.Duration) {
	RegisterMetrics()
	sessionRequests.WithLabelValues(method, outcome).Inc()
	sessionRequestDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

func SetPendingRequests(n int) {
	RegisterMetrics()
	sessionPending.Set(float64(n))
}

func SetQueuedFrames(n int) {
	RegisterMetrics()
	sessionQueued.Set(float64(n))
}

func RecordStateTransition(state string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(state).Inc()
}

func RecordConnect(restored bool) {
	RegisterMetrics()
	kind := "fresh"
	if restored {
		kind = "restored"
	}
	sessionConnects.WithLabelValues(kind).Inc()
}

func RecordInbound(kind string) {
	RegisterMetrics()
	sessionInbound.WithLabelValues(kind).Inc()
}

func RecordNetcast(command string, applied bool) {
	RegisterMetrics()
	result := "applied"
	if !applied {
		result = "rejected"
	}
	cacheNetcasts.WithLabelValues(command, result).Inc()
}
