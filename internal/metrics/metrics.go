// Package metrics exposes the gateway's Prometheus counters and
// gauges, grounded on adred-codev-ws_poc's go-server/internal/metrics:
// a struct of promauto-registered collectors built once at startup,
// with one increment/observe method per event the rest of the process
// cares to record. Collectors live on the default Prometheus registry;
// no HTTP route in this repository serves them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the gateway records against.
type Metrics struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	connectionErrors  *prometheus.CounterVec

	framesReceived prometheus.Counter
	framesSent     prometheus.Counter

	appendsTotal    prometheus.Counter
	appendLatency   prometheus.Histogram
	broadcastsTotal prometheus.Counter
	dropsTotal      prometheus.Counter

	rateLimitRejections *prometheus.CounterVec

	retentionPrunedTotal prometheus.Counter
	retentionSweeps      prometheus.Counter

	presenceLeasesActive prometheus.Gauge
	presenceUpdatesTotal prometheus.Counter

	socialEventsTotal prometheus.Counter
}

// New builds and registers every collector against the default
// registry.
func New() *Metrics {
	return &Metrics{
		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_total",
			Help: "Total number of duplex connections accepted",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Number of currently open duplex connections",
		}),
		connectionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_connection_errors_total",
			Help: "Total number of duplex connections closed with an error",
		}, []string{"reason"}),

		framesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_frames_received_total",
			Help: "Total number of client->server frames processed",
		}),
		framesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_frames_sent_total",
			Help: "Total number of server->client frames sent",
		}),

		appendsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_appends_total",
			Help: "Total number of conversation events appended",
		}),
		appendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_append_latency_seconds",
			Help:    "Latency of append transactions",
			Buckets: prometheus.DefBuckets,
		}),
		broadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_broadcasts_total",
			Help: "Total number of events handed to the subscription hub",
		}),
		dropsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_subscriber_drops_total",
			Help: "Total number of subscribers marked dropped for a full outbound queue",
		}),

		rateLimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total number of requests rejected by a fixed-window rate limiter",
		}, []string{"action"}),

		retentionPrunedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_retention_pruned_events_total",
			Help: "Total number of conversation events deleted by the retention sweeper",
		}),
		retentionSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_retention_sweeps_total",
			Help: "Total number of retention sweep passes run",
		}),

		presenceLeasesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_presence_leases_active",
			Help: "Number of currently unexpired presence leases",
		}),
		presenceUpdatesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_presence_updates_total",
			Help: "Total number of presence.update frames delivered",
		}),

		socialEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_social_events_total",
			Help: "Total number of social events published",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed(reason string) {
	m.connectionsActive.Dec()
	if reason != "" {
		m.connectionErrors.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) FrameReceived() { m.framesReceived.Inc() }
func (m *Metrics) FrameSent()     { m.framesSent.Inc() }

func (m *Metrics) RecordAppend(duration time.Duration) {
	m.appendsTotal.Inc()
	m.appendLatency.Observe(duration.Seconds())
}

func (m *Metrics) RecordBroadcast() { m.broadcastsTotal.Inc() }
func (m *Metrics) RecordDrop()      { m.dropsTotal.Inc() }

func (m *Metrics) RecordRateLimitRejection(action string) {
	m.rateLimitRejections.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordRetentionSweep(pruned int64) {
	m.retentionSweeps.Inc()
	if pruned > 0 {
		m.retentionPrunedTotal.Add(float64(pruned))
	}
}

func (m *Metrics) SetPresenceLeasesActive(n int) {
	m.presenceLeasesActive.Set(float64(n))
}

func (m *Metrics) RecordPresenceUpdate() { m.presenceUpdatesTotal.Inc() }

func (m *Metrics) RecordSocialEvent() { m.socialEventsTotal.Inc() }
