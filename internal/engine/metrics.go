package engine

import "github.com/prometheus/client_golang/prometheus"

// collector exposes Engine state as Prometheus metrics, the same
// Describe/Collect shape as runZeroInc-sockstats/pkg/exporter.TCPInfoCollector
// and internal/swt's collector.
type collector struct {
	eng *Engine

	instructionsRetired *prometheus.Desc
	resyncs             *prometheus.Desc
	droppedMessages     *prometheus.Desc
}

// NewCollector wraps eng as a prometheus.Collector.
func NewCollector(eng *Engine) prometheus.Collector {
	return &collector{
		eng: eng,
		instructionsRetired: prometheus.NewDesc(
			"dqr_engine_instructions_retired_total", "Total instructions retired across all harts.", nil, nil),
		resyncs: prometheus.NewDesc(
			"dqr_engine_resyncs_total", "Total resynchronization events across all harts.", nil, nil),
		droppedMessages: prometheus.NewDesc(
			"dqr_engine_dropped_messages_total", "Messages discarded while a hart was seeking a sync point (at start-up or after a resync).", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.instructionsRetired
	ch <- c.resyncs
	ch <- c.droppedMessages
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.instructionsRetired, prometheus.CounterValue, float64(c.eng.InstructionsRetired()))
	ch <- prometheus.MustNewConstMetric(c.resyncs, prometheus.CounterValue, float64(c.eng.Resyncs()))
	ch <- prometheus.MustNewConstMetric(c.droppedMessages, prometheus.CounterValue, float64(c.eng.DroppedMessages()))
}
