package swt

import "github.com/prometheus/client_golang/prometheus"

// collector exposes Multiplexer state as Prometheus metrics, the same
// Describe/Collect-over-a-mutexed-map shape as
// runZeroInc-sockstats/pkg/exporter.TCPInfoCollector.
type collector struct {
	mux *Multiplexer

	connectedClients    *prometheus.Desc
	withholdingClients   *prometheus.Desc
	bytesFannedOut       *prometheus.Desc
	highWaterClients     *prometheus.Desc
	droppedReassemblies  *prometheus.Desc
}

// NewCollector wraps mux as a prometheus.Collector.
func NewCollector(mux *Multiplexer) prometheus.Collector {
	return &collector{
		mux: mux,
		connectedClients: prometheus.NewDesc(
			"dqr_swt_connected_clients", "Number of currently connected SWT clients.", nil, nil),
		withholdingClients: prometheus.NewDesc(
			"dqr_swt_withholding_clients", "Number of SWT clients currently in the withholding (backpressure) state.", nil, nil),
		bytesFannedOut: prometheus.NewDesc(
			"dqr_swt_bytes_fanned_out_total", "Total bytes written across currently connected SWT clients.", nil, nil),
		highWaterClients: prometheus.NewDesc(
			"dqr_swt_clients_high_water", "Peak number of concurrently connected SWT clients.", nil, nil),
		droppedReassemblies: prometheus.NewDesc(
			"dqr_swt_reassemblies_dropped_total", "DATA_ACQUISITION messages discarded by the SWT reassembler.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectedClients
	ch <- c.withholdingClients
	ch <- c.bytesFannedOut
	ch <- c.highWaterClients
	ch <- c.droppedReassemblies
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	clients := c.mux.Clients()
	var withholding int
	var bytesTotal uint64
	for _, cl := range clients {
		if cl.IsWithholding() {
			withholding++
		}
		bytesTotal += cl.BytesSent()
	}
	ch <- prometheus.MustNewConstMetric(c.connectedClients, prometheus.GaugeValue, float64(len(clients)))
	ch <- prometheus.MustNewConstMetric(c.withholdingClients, prometheus.GaugeValue, float64(withholding))
	ch <- prometheus.MustNewConstMetric(c.bytesFannedOut, prometheus.CounterValue, float64(bytesTotal))
	ch <- prometheus.MustNewConstMetric(c.highWaterClients, prometheus.GaugeValue, float64(c.mux.HighWaterClients()))
	ch <- prometheus.MustNewConstMetric(c.droppedReassemblies, prometheus.CounterValue, float64(c.mux.DroppedReassemblies()))
}
