// Package metrics exposes the base station's operational counters and
// gauges as Prometheus metrics, grounded on the exporter style used in
// the pack's sockstats collector (pkg/exporter): metrics are plain
// prometheus.Gauge/Counter values owned by a struct, registered on a
// private Registry so the Handler can be mounted independently of the
// admin api package's router.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the base station updates as it runs.
type Metrics struct {
	registry *prometheus.Registry

	NodeCount       prometheus.Gauge
	QueueDepth      prometheus.Gauge
	RXFramesTotal   *prometheus.CounterVec
	TXFramesTotal   prometheus.Counter
	FrameErrorTotal *prometheus.CounterVec
	CommandRetries  prometheus.Counter
}

// New constructs a Metrics on a fresh, private Registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		NodeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lss",
			Name:      "node_count",
			Help:      "Number of sensor nodes currently tracked by the store.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lss",
			Name:      "queue_depth",
			Help:      "Number of outbound commands not yet in a terminal state.",
		}),
		RXFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lss",
			Name:      "rx_frames_total",
			Help:      "Frames received by frame kind.",
		}, []string{"kind"}),
		TXFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lss",
			Name:      "tx_frames_total",
			Help:      "Frames successfully handed to the radio for transmission.",
		}),
		FrameErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lss",
			Name:      "frame_errors_total",
			Help:      "Frames rejected by the codec, by error kind.",
		}, []string{"reason"}),
		CommandRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lss",
			Name:      "command_retries_total",
			Help:      "Outbound commands that required a retry.",
		}),
	}
	reg.MustRegister(m.NodeCount, m.QueueDepth, m.RXFramesTotal, m.TXFramesTotal, m.FrameErrorTotal, m.CommandRetries)
	return m
}

// Handler returns the http.Handler serving this Metrics' registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
