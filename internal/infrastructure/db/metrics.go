package db

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "ipam_db"

// Collector is a prometheus.Collector that counts serialization failures
// seen by a Retrier. A nil *Collector discards everything.
type Collector struct {
	conflicts *prometheus.CounterVec
	exhausted *prometheus.CounterVec
}

func NewMetricsCollector() *Collector {
	return &Collector{
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "serialization_failures_total",
				Help:      "The number of serialization failures seen by retried operations.",
			}, []string{"operation"},
		),
		exhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_exhausted_total",
				Help:      "The number of operations that gave up after repeated serialization failures.",
			}, []string{"operation"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.conflicts.Describe(ch)
	c.exhausted.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.conflicts.Collect(ch)
	c.exhausted.Collect(ch)
}

func (c *Collector) conflicted(operation string) {
	if c != nil {
		c.conflicts.WithLabelValues(operation).Inc()
	}
}

func (c *Collector) gaveUp(operation string) {
	if c != nil {
		c.exhausted.WithLabelValues(operation).Inc()
	}
}
