package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	goBankAuth "github.com/MrEthical07/goBankAuth"
	"github.com/MrEthical07/goBankAuth/metrics/export/internaldefs"
)

// MetricsSource is satisfied by *goBankAuth.Session.
type MetricsSource interface {
	MetricsSnapshot() goBankAuth.MetricsSnapshot
	AuditDropped() uint64
}

type sharedMetrics struct {
	m *goBankAuth.Metrics
}

func (s sharedMetrics) MetricsSnapshot() goBankAuth.MetricsSnapshot { return s.m.Snapshot() }
func (s sharedMetrics) AuditDropped() uint64                         { return 0 }

// FromMetrics adapts a Metrics shared by several sessions. Audit drops are
// per session and reported as zero.
func FromMetrics(m *goBankAuth.Metrics) MetricsSource {
	return sharedMetrics{m: m}
}

type counterDesc struct {
	id   goBankAuth.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   goBankAuth.MetricID
	desc *prometheus.Desc
}

// PrometheusExporter is a prometheus.Collector reading a metrics snapshot
// on every scrape.
type PrometheusExporter struct {
	source     MetricsSource
	counters   []counterDesc
	histograms []histogramDesc
	dropped    *prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)

// NewPrometheusExporter returns a collector over source. Register it with
// a registry of your choice, or serve it directly with Handler.
func NewPrometheusExporter(source MetricsSource) *PrometheusExporter {
	p := &PrometheusExporter{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		dropped:    prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		p.counters = append(p.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		p.histograms = append(p.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return p
}

// Describe implements prometheus.Collector.
func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range p.counters {
		ch <- c.desc
	}
	for _, h := range p.histograms {
		ch <- h.desc
	}
	ch <- p.dropped
}

// Collect implements prometheus.Collector. Nothing is emitted while
// metrics are disabled.
func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if p == nil || p.source == nil {
		return
	}
	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for _, c := range p.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(snapshot.Counters[c.id]))
	}

	for _, h := range p.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(cumulative)-1)
		for i, le := range internaldefs.HistogramUpperBounds[:len(cumulative)-1] {
			buckets[le] = cumulative[i]
		}
		// the snapshot keeps no sum
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(p.dropped, prometheus.CounterValue, float64(dropped))
}

// Handler serves this collector alone from a private registry.
func (p *PrometheusExporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(p)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
