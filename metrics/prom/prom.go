// Package prom exports tiercache.Metrics as Prometheus counters.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache"
)

// Collector reads a Metrics snapshot on every scrape. Counters are reported
// as they stand; calling Metrics.Reset makes them go backwards, so do not
// reset a Metrics that is being scraped.
type Collector struct {
	m      *tiercache.Metrics
	events *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector names the series <namespace>_events_total{event="..."}.
// constLabels are attached to every series (e.g. the cache name).
func NewCollector(m *tiercache.Metrics, namespace string, constLabels prometheus.Labels) *Collector {
	if namespace == "" {
		namespace = "tiercache"
	}
	return &Collector{
		m: m,
		events: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_total"),
			"Cache and concurrency events by kind.",
			[]string{"event"},
			constLabels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) { ch <- c.events }

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	for _, e := range tiercache.Events() {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(snap.Get(e)), e.String())
	}
}
