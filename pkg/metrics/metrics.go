package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DOsTotal tracks the number of Data Objects currently in each
	// lifecycle status (spec §3), labeled per session.
	DOsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dfms_dos_total",
			Help: "Total number of Data Objects by session and status",
		},
		[]string{"session", "status"},
	)

	SessionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dfms_sessions_total",
			Help: "Total number of active sessions on this manager",
		},
	)

	BytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dfms_bytes_written_total",
			Help: "Total number of bytes written through any Data Object's write path",
		},
	)

	EventsFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dfms_events_fired_total",
			Help: "Total number of DO lifecycle events fired, by kind",
		},
		[]string{"kind"},
	)

	BackendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dfms_backend_errors_total",
			Help: "Total number of I/O backend errors, by backend kind",
		},
		[]string{"backend"},
	)

	ConsumerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dfms_consumer_runs_total",
			Help: "Total number of application-consumer Run/Consume invocations, by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	DeployDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dfms_deploy_duration_seconds",
			Help:    "Time taken to deploy a session's graph spec in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RPCRequestsTotal and RPCRequestDuration instrument pkg/rpcapi's
	// control-surface calls (spec §6).
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dfms_rpc_requests_total",
			Help: "Total number of RPC control-surface requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dfms_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RemoteNotifyTotal tracks cross-manager completion delivery (spec
	// §4.6): at-least-once, so a receiver may see more deliveries than
	// producers.
	RemoteNotifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dfms_remote_notify_total",
			Help: "Total number of cross-manager status-change notifications, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		DOsTotal,
		SessionsTotal,
		BytesWrittenTotal,
		EventsFiredTotal,
		BackendErrorsTotal,
		ConsumerRunsTotal,
		DeployDuration,
		RPCRequestsTotal,
		RPCRequestDuration,
		RemoteNotifyTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
