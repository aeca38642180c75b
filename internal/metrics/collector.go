package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

// FeatureCollector exposes a CPU feature snapshot taken at scrape time.
// probe is usually (*cpufeatures.Prober).Detect, or (*cpufeatures.Cache).Snapshot
// when scrapes are frequent.
type FeatureCollector struct {
	probe func() *cpufeatures.Snapshot

	present *prometheus.Desc
	intel   *prometheus.Desc
	info    *prometheus.Desc
}

// NewFeatureCollector returns a collector calling probe on each scrape.
func NewFeatureCollector(probe func() *cpufeatures.Snapshot) *FeatureCollector {
	return &FeatureCollector{
		probe: probe,
		present: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "feature_present"),
			"Whether the CPU feature is usable (1) or cannot be assumed (0).",
			[]string{"feature"}, nil,
		),
		intel: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "intel_compatible"),
			"Whether the CPU vendor is GenuineIntel (1) or not (0).",
			nil, nil,
		),
		info: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cpu_info"),
			"CPU identity; the value is always 1.",
			[]string{"vendor", "brand", "family", "model", "stepping"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *FeatureCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.present
	ch <- c.intel
	ch <- c.info
}

// Collect implements prometheus.Collector.
func (c *FeatureCollector) Collect(ch chan<- prometheus.Metric) {
	start := time.Now()
	snap := c.probe()
	if ProbeDuration != nil {
		ProbeDuration.Observe(time.Since(start).Seconds())
		ProbesTotal.Inc()
	}

	for _, f := range cpufeatures.AllFeatures() {
		ch <- prometheus.MustNewConstMetric(c.present, prometheus.GaugeValue, boolToFloat(snap.Has(f)), f.String())
	}
	ch <- prometheus.MustNewConstMetric(c.intel, prometheus.GaugeValue, boolToFloat(snap.IntelCompatible))

	id := snap.Identity
	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
		id.Vendor, id.BrandName, itoa(id.Family), itoa(id.Model), itoa(id.Stepping))
}
