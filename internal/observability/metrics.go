package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics holds Prometheus metrics for the streaming gateway.
type GatewayMetrics struct {
	requestsTotal      *prometheus.CounterVec
	activeStreams      prometheus.Gauge
	framesRelayedTotal prometheus.Counter
	bytesRelayedTotal  prometheus.Counter

	syncEventsTotal *prometheus.CounterVec
	feedConnected   prometheus.Gauge
	routesLoaded    prometheus.Gauge

	panicsRecovered prometheus.Counter
}

var (
	gatewayMetrics     *GatewayMetrics
	gatewayMetricsOnce sync.Once
)

// GetGatewayMetrics returns the singleton gateway metrics instance.
func GetGatewayMetrics() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayMetrics = newGatewayMetrics()
	})
	return gatewayMetrics
}

func newGatewayMetrics() *GatewayMetrics {
	return &GatewayMetrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamgw",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of stream requests by status code",
			},
			[]string{"status"},
		),
		activeStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamgw",
				Subsystem: "proxy",
				Name:      "active_streams",
				Help:      "Number of streams currently being relayed",
			},
		),
		framesRelayedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamgw",
				Subsystem: "proxy",
				Name:      "frames_relayed_total",
				Help:      "Total number of backend frames relayed to clients",
			},
		),
		bytesRelayedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamgw",
				Subsystem: "proxy",
				Name:      "bytes_relayed_total",
				Help:      "Total number of backend bytes relayed to clients",
			},
		),
		syncEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamgw",
				Subsystem: "configsync",
				Name:      "events_total",
				Help:      "Total number of route change events applied by action",
			},
			[]string{"action"},
		),
		feedConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamgw",
				Subsystem: "configsync",
				Name:      "feed_connected",
				Help:      "Whether the route change feed subscription is live (1) or lost (0)",
			},
		),
		routesLoaded: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamgw",
				Subsystem: "configsync",
				Name:      "routes_loaded",
				Help:      "Number of routes currently held in the routing table",
			},
		),
		panicsRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamgw",
				Subsystem: "http",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered by the recovery middleware",
			},
		),
	}
}

// RecordRequest records a completed stream request with its status code.
func (m *GatewayMetrics) RecordRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// StreamStarted increments the active stream gauge.
func (m *GatewayMetrics) StreamStarted() {
	m.activeStreams.Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *GatewayMetrics) StreamEnded() {
	m.activeStreams.Dec()
}

// RecordFrame records a relayed backend frame and its size.
func (m *GatewayMetrics) RecordFrame(size int) {
	m.framesRelayedTotal.Inc()
	m.bytesRelayedTotal.Add(float64(size))
}

// RecordSyncEvent records an applied route change event.
func (m *GatewayMetrics) RecordSyncEvent(action string) {
	m.syncEventsTotal.WithLabelValues(action).Inc()
}

// SetFeedConnected records whether the change feed subscription is live.
func (m *GatewayMetrics) SetFeedConnected(connected bool) {
	if connected {
		m.feedConnected.Set(1)
	} else {
		m.feedConnected.Set(0)
	}
}

// SetRoutesLoaded records the current routing table size.
func (m *GatewayMetrics) SetRoutesLoaded(n int) {
	m.routesLoaded.Set(float64(n))
}

// RecordPanic records a recovered panic.
func (m *GatewayMetrics) RecordPanic() {
	m.panicsRecovered.Inc()
}
