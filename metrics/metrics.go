// Package metrics exposes coordinator stats to prometheus.
package metrics

import (
	"github.com/hnhuaxi/singular/singleton"
	"github.com/hnhuaxi/singular/utils"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultNamespace = "singleton"

// Source is what the collector reads on every scrape.
type Source interface {
	Snapshot() []singleton.Stats
}

type Collector struct {
	source Source

	live          *prometheus.Desc
	refs          *prometheus.Desc
	generation    *prometheus.Desc
	constructions *prometheus.Desc
	failures      *prometheus.Desc
	disposals     *prometheus.Desc
	reentries     *prometheus.Desc
	lockWaits     *prometheus.Desc
	lockTimeouts  *prometheus.Desc
}

func NewCollector(source Source, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, []string{"type"}, nil)
	}

	return &Collector{
		source:        source,
		live:          desc("live", "Whether a live instance exists for the type."),
		refs:          desc("refs", "Owning references held on the live instance."),
		generation:    desc("generation", "Last successfully constructed generation."),
		constructions: desc("constructions_total", "Successful constructions."),
		failures:      desc("construction_failures_total", "Failed constructions."),
		disposals:     desc("disposals_total", "Disposed generations."),
		reentries:     desc("reentries_total", "Acquires issued while the same chain was constructing the type."),
		lockWaits:     desc("lock_waits_total", "Acquires that had to wait for the construction lock."),
		lockTimeouts:  desc("lock_timeouts_total", "Construction lock waits that gave up."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.live
	ch <- c.refs
	ch <- c.generation
	ch <- c.constructions
	ch <- c.failures
	ch <- c.disposals
	ch <- c.reentries
	ch <- c.lockWaits
	ch <- c.lockTimeouts
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.source.Snapshot() {
		label := utils.Label(st.Type)

		live := 0.0
		if st.Live {
			live = 1
		}

		ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, live, label)
		ch <- prometheus.MustNewConstMetric(c.refs, prometheus.GaugeValue, float64(st.Refs), label)
		ch <- prometheus.MustNewConstMetric(c.generation, prometheus.GaugeValue, float64(st.Generation), label)
		ch <- prometheus.MustNewConstMetric(c.constructions, prometheus.CounterValue, float64(st.Constructions), label)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.Failures), label)
		ch <- prometheus.MustNewConstMetric(c.disposals, prometheus.CounterValue, float64(st.Disposals), label)
		ch <- prometheus.MustNewConstMetric(c.reentries, prometheus.CounterValue, float64(st.Reentries), label)
		ch <- prometheus.MustNewConstMetric(c.lockWaits, prometheus.CounterValue, float64(st.LockWaits), label)
		ch <- prometheus.MustNewConstMetric(c.lockTimeouts, prometheus.CounterValue, float64(st.LockTimeouts), label)
	}
}
