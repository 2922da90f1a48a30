package dispatch

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "logsieve"
	metricsSubsystem = "dispatch"
)

// Collector exposes dispatcher stats as Prometheus metrics. Values are read
// from Stats at scrape time.
type Collector struct {
	d *Dispatcher

	enqueued    *prometheus.Desc
	delivered   *prometheus.Desc
	dropped     *prometheus.Desc
	rejected    *prometheus.Desc
	lost        *prometheus.Desc
	writeErrors *prometheus.Desc
	queued      *prometheus.Desc
	capacity    *prometheus.Desc
}

// NewCollector returns a collector for d.
func NewCollector(d *Dispatcher) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, metricsSubsystem, name),
			help, nil, nil,
		)
	}
	return &Collector{
		d:           d,
		enqueued:    desc("enqueued_total", "Total number of records accepted into the dispatch queue"),
		delivered:   desc("delivered_total", "Total number of records written to the sink"),
		dropped:     desc("dropped_total", "Total number of queued records discarded on overflow"),
		rejected:    desc("rejected_total", "Total number of records rejected after shutdown began"),
		lost:        desc("lost_on_shutdown_total", "Total number of records left undelivered at drain timeout"),
		writeErrors: desc("write_errors_total", "Total number of failed sink writes"),
		queued:      desc("queue_depth", "Current number of queued records"),
		capacity:    desc("queue_capacity", "Configured dispatch queue capacity"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.enqueued
	ch <- c.delivered
	ch <- c.dropped
	ch <- c.rejected
	ch <- c.lost
	ch <- c.writeErrors
	ch <- c.queued
	ch <- c.capacity
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.d.Stats()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	counter(c.enqueued, s.Enqueued)
	counter(c.delivered, s.Delivered)
	counter(c.dropped, s.Dropped)
	counter(c.rejected, s.Rejected)
	counter(c.lost, s.LostOnShutdown)
	counter(c.writeErrors, s.WriteErrors)
	gauge(c.queued, s.Queued)
	gauge(c.capacity, s.Capacity)
}
