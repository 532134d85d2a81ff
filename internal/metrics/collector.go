package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to live pipeline state.
type PipelineStats interface {
	QueueDepth() int
	BacklogDepth() int
	CaptureActive() bool
	SourceCount() int
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats PipelineStats

	// Descriptors for scrape-time gauges.
	queueDepth     *prometheus.Desc
	backlogDepth   *prometheus.Desc
	captureActive  *prometheus.Desc
	activeSources  *prometheus.Desc
	sseSubscribers *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (metrics will report 0).
func NewCollector(stats PipelineStats) *Collector {
	return &Collector{
		stats: stats,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Chunks currently waiting in the transcription queue.",
			nil, nil,
		),
		backlogDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "backlog_depth"),
			"Chunks parked while no model is loaded.",
			nil, nil,
		),
		captureActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "capture_active"),
			"Whether a capture session is running (0 or 1).",
			nil, nil,
		),
		activeSources: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "capture_sources"),
			"Audio sources attached to the running session.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.backlogDepth
	ch <- c.captureActive
	ch <- c.activeSources
	ch <- c.sseSubscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.backlogDepth, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.captureActive, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.activeSources, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, 0)
		return
	}

	active := 0.0
	if c.stats.CaptureActive() {
		active = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(c.stats.QueueDepth()))
	ch <- prometheus.MustNewConstMetric(c.backlogDepth, prometheus.GaugeValue, float64(c.stats.BacklogDepth()))
	ch <- prometheus.MustNewConstMetric(c.captureActive, prometheus.GaugeValue, active)
	ch <- prometheus.MustNewConstMetric(c.activeSources, prometheus.GaugeValue, float64(c.stats.SourceCount()))
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(c.stats.SubscriberCount()))
}
