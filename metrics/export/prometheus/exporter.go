package prometheus

import (
	"net/http"

	otpbroker "github.com/MrEthical07/otpbroker"
	"github.com/MrEthical07/otpbroker/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() otpbroker.MetricsSnapshot
	AuditDropped() uint64
}

type histogramDesc struct {
	id   otpbroker.MetricID
	desc *prometheus.Desc
}

type counterDesc struct {
	id   otpbroker.MetricID
	desc *prometheus.Desc
}

type purposeSeries struct {
	id      otpbroker.MetricID
	purpose string
}

// Collector is a prometheus.Collector over an Engine's metrics snapshot.
// Each scrape takes one snapshot.
type Collector struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	rateLimited  *prometheus.Desc
	purposes     []purposeSeries
	auditDropped *prometheus.Desc
}

// NewCollector reads from engine.
func NewCollector(engine *otpbroker.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		rateLimited: prometheus.NewDesc(internaldefs.RateLimitedName, internaldefs.RateLimitedHelp,
			[]string{internaldefs.RateLimitedLabel}, nil),
		purposes:     make([]purposeSeries, 0, len(internaldefs.RateLimitDefs)),
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.RateLimitDefs {
		c.purposes = append(c.purposes, purposeSeries{id: def.ID, purpose: def.Purpose})
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, h := range c.histograms {
		ch <- h.desc
	}
	ch <- c.rateLimited
	ch <- c.auditDropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(snapshot.Counters[d.id]))
	}

	for _, p := range c.purposes {
		ch <- prometheus.MustNewConstMetric(c.rateLimited, prometheus.CounterValue, float64(snapshot.Counters[p.id]), p.purpose)
	}

	for _, h := range c.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		buckets := make(map[float64]uint64, len(internaldefs.UpperBounds))
		for i, le := range internaldefs.UpperBounds {
			buckets[le] = cumulative[i]
		}
		// Snapshots carry bucket counts only, so the sum is reported as zero.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler serves the collector from a private registry together with the
// Go runtime and process collectors.
func Handler(c *Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
