// Package metrics exports probe results and probe health to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

const namespace = "cpuprobe"

// Prometheus metrics - exported for use by other packages.  They stay nil
// until InitMetrics runs; callers check before use.
var (
	ProbeDuration         prometheus.Histogram
	ProbesTotal           prometheus.Counter
	CrossCheckMismatches  prometheus.Gauge
	WorkloadsEnabled      *prometheus.GaugeVec
	WorkerTaskErrorsTotal prometheus.Counter

	MemoryUsage prometheus.Gauge
	CpuUsage    prometheus.Gauge
	Goroutines  prometheus.Gauge
)

// InitMetrics creates the package metrics and registers them with reg.
func InitMetrics(reg prometheus.Registerer) {
	ProbeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_duration_seconds",
		Help:      "Time taken to probe all CPU features.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	})
	ProbesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probes_total",
		Help:      "Total number of feature probes.",
	})
	CrossCheckMismatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "crosscheck_mismatches",
		Help:      "Features on which another detector disagreed with CPUID in the last cross-check.",
	})
	WorkloadsEnabled = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workload_enabled",
		Help:      "Whether a gated stress workload may run (1) or not (0).",
	}, []string{"workload"})
	WorkerTaskErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_task_errors_total",
		Help:      "Total number of failed worker pool tasks.",
	})
	MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_usage_bytes",
		Help:      "Current heap allocation of the exporter in bytes.",
	})
	CpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_cpu_usage_percent",
		Help:      "Host CPU usage percentage since the previous update.",
	})
	Goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "goroutines",
		Help:      "Number of running goroutines.",
	})

	reg.MustRegister(
		ProbeDuration,
		ProbesTotal,
		CrossCheckMismatches,
		WorkloadsEnabled,
		WorkerTaskErrorsTotal,
		MemoryUsage,
		CpuUsage,
		Goroutines,
	)

	log.Info("Prometheus metrics initialized")
}

// SetWorkloads records the gating outcome for each workload.
func SetWorkloads(enabled map[string]bool) {
	if WorkloadsEnabled == nil {
		return
	}
	WorkloadsEnabled.Reset()
	for name, on := range enabled {
		WorkloadsEnabled.WithLabelValues(name).Set(boolToFloat(on))
	}
}

// UpdateSystemMetrics updates memory, CPU, and goroutine metrics.  CPU usage
// is measured against the previous call, so the first update reports the
// average since boot.
func UpdateSystemMetrics(ctx context.Context) {
	if MemoryUsage == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.Set(float64(m.Alloc))
	Goroutines.Set(float64(runtime.NumGoroutine()))

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(cpuPercent) > 0 {
		CpuUsage.Set(cpuPercent[0])
	}
}

// WriteTextfile gathers g and writes it in the text exposition format for
// the node_exporter textfile collector.  The file is replaced atomically so
// the collector never reads a partial write.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, mf); err != nil {
			tmp.Close()
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename textfile: %w", err)
	}
	log.Debugf("Wrote %d metric families to %s", len(families), path)
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func itoa(i int) string { return strconv.Itoa(i) }
