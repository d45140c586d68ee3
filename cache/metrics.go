package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes Store statistics to Prometheus. Values are read from
// Store.Stats on every scrape.
type Collector struct {
	store *Store

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	operations    *prometheus.Desc
	hitRatio      *prometheus.Desc
	memoryEntries *prometheus.Desc
	memoryBytes   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for store with metric names under namespace.
func NewCollector(namespace string, store *Store) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}
	return &Collector{
		store:         store,
		hits:          desc("hits_total", "Lookups answered from either tier"),
		misses:        desc("misses_total", "Lookups that found nothing valid"),
		operations:    desc("operations_total", "Lookups performed"),
		hitRatio:      desc("hit_ratio", "Hits divided by operations"),
		memoryEntries: desc("memory_entries", "Entries held in the memory tier"),
		memoryBytes:   desc("memory_bytes", "Estimated size of the memory tier"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.operations
	ch <- c.hitRatio
	ch <- c.memoryEntries
	ch <- c.memoryBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.store.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(st.Operations))
	ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, st.Ratio())
	ch <- prometheus.MustNewConstMetric(c.memoryEntries, prometheus.GaugeValue, float64(st.MemoryEntries))
	ch <- prometheus.MustNewConstMetric(c.memoryBytes, prometheus.GaugeValue, float64(st.MemorySize))
}
