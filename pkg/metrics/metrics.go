package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Framework metrics
	FrameworkBundlesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "celixd_framework_bundles_total",
			Help: "Total number of installed bundles by state",
		},
		[]string{"state"},
	)

	FrameworkDispatcherQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "celixd_framework_dispatcher_queue_depth",
			Help: "Current depth of the bundle/framework event dispatcher queue",
		},
	)

	FrameworkDispatcherEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celixd_framework_dispatcher_events_total",
			Help: "Total dispatcher events processed by kind",
		},
		[]string{"kind"},
	)

	// Registry metrics
	RegistryServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "celixd_registry_services_total",
			Help: "Total number of currently registered services",
		},
	)

	RegistryListenersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "celixd_registry_listeners_total",
			Help: "Total number of active service listeners",
		},
	)

	// Tracker metrics
	TrackerHighestChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celixd_tracker_highest_changes_total",
			Help: "Total number of highest-ranking re-elections observed across trackers",
		},
		[]string{"service_name"},
	)

	TrackerTeardownGraceExceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "celixd_tracker_teardown_grace_exceeded_total",
			Help: "Total number of tracked entries freed after their teardown grace period elapsed",
		},
	)

	// EARPM (remote event provider) metrics
	EarpmOutboundQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "celixd_earpm_outbound_queue_depth",
			Help: "Current MQTT outbound queue depth by priority",
		},
		[]string{"priority"},
	)

	EarpmOutboundRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celixd_earpm_outbound_rejected_total",
			Help: "Total outbound messages rejected at admission by priority",
		},
		[]string{"priority"},
	)

	EarpmSyncEventLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "celixd_earpm_sync_event_latency_seconds",
			Help:    "Latency of send_event synchronous round trips",
			Buckets: prometheus.DefBuckets,
		},
	)

	EarpmSyncEventTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "celixd_earpm_sync_event_timeouts_total",
			Help: "Total send_event calls that timed out waiting for acks",
		},
	)

	EarpmRemoteFrameworksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "celixd_earpm_remote_frameworks_total",
			Help: "Total number of known remote framework peers",
		},
	)

	// Deliverer metrics
	DelivererQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "celixd_deliverer_queue_depth",
			Help: "Current depth of the event deliverer's bounded work queue",
		},
	)

	DelivererEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celixd_deliverer_events_total",
			Help: "Total events processed by the deliverer by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(FrameworkBundlesTotal)
	prometheus.MustRegister(FrameworkDispatcherQueueDepth)
	prometheus.MustRegister(FrameworkDispatcherEventsTotal)
	prometheus.MustRegister(RegistryServicesTotal)
	prometheus.MustRegister(RegistryListenersTotal)
	prometheus.MustRegister(TrackerHighestChangesTotal)
	prometheus.MustRegister(TrackerTeardownGraceExceededTotal)
	prometheus.MustRegister(EarpmOutboundQueueDepth)
	prometheus.MustRegister(EarpmOutboundRejectedTotal)
	prometheus.MustRegister(EarpmSyncEventLatency)
	prometheus.MustRegister(EarpmSyncEventTimeoutsTotal)
	prometheus.MustRegister(EarpmRemoteFrameworksTotal)
	prometheus.MustRegister(DelivererQueueDepth)
	prometheus.MustRegister(DelivererEventsTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and recording its
// duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since NewTimer, without recording
// anything. Safe to call more than once.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time since NewTimer to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time since NewTimer to one
// series of a histogram vec, identified by labelValues.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labelValues ...string) {
	histogram.WithLabelValues(labelValues...).Observe(t.Duration().Seconds())
}
