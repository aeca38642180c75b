package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
	"git.uuxo.net/uuxo/cpuprobe/internal/gate"
	"git.uuxo.net/uuxo/cpuprobe/internal/handlers"
	"git.uuxo.net/uuxo/cpuprobe/internal/metrics"
	"git.uuxo.net/uuxo/cpuprobe/internal/server"
)

const systemMetricsInterval = 15 * time.Second

// newMux wires the exporter routes.  probe is called per request.
func newMux(cfg *config.Config, reg *prometheus.Registry, probe func() *cpufeatures.Snapshot, src cpufeatures.FeatureSource, workloads []gate.Workload) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/features", handlers.CORSWrapper(cfg.Metrics.CORSOrigin, handlers.FeaturesHandler(probe)))
	mux.HandleFunc("/workloads", handlers.CORSWrapper(cfg.Metrics.CORSOrigin, handlers.WorkloadsHandler(src, workloads)))
	mux.HandleFunc("/healthz", handlers.HealthHandler())
	return mux
}

// newRegistry registers the package metrics, the feature collector and the
// standard Go and process collectors.
func newRegistry(probe func() *cpufeatures.Snapshot) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	metrics.InitMetrics(reg)
	reg.MustRegister(
		metrics.NewFeatureCollector(probe),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// sourceFor picks what requests are answered from.  With a cache TTL the
// snapshot is shared between scrapes; otherwise every request re-probes.
func sourceFor(cfg *config.Config, p *cpufeatures.Prober) (func() *cpufeatures.Snapshot, cpufeatures.FeatureSource) {
	if cfg.Probe.CacheTTL > 0 {
		c := cpufeatures.NewCache(p, cfg.Probe.CacheTTL)
		return c.Snapshot, c
	}
	return p.Detect, p
}

func serve(cfg *config.Config, p *cpufeatures.Prober, workloads []gate.Workload) int {
	probe, src := sourceFor(cfg, p)
	reg := newRegistry(probe)

	snap := probe()
	enabled := make(map[string]bool, len(workloads))
	for _, d := range gate.Evaluate(snap, workloads) {
		enabled[d.Workload.Name] = d.Enabled
	}
	metrics.SetWorkloads(enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go updateSystemMetrics(ctx)

	srv := server.New(cfg.Metrics.ListenAddress, newMux(cfg, reg, probe, src, workloads), cfg.Timeouts)
	stopped := server.SetupGracefulShutdown(srv, cancel, cfg.Timeouts.Shutdown, func() {
		log.Info("Exporter stopped")
	})
	server.PrintStartupBanner(cfg.Build.Version, cfg.Metrics.ListenAddress, snap.Summary())

	if err := server.Start(srv); err != nil {
		log.Errorf("Server error: %v", err)
		return exitMissing
	}
	<-stopped
	return exitOK
}

func updateSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	metrics.UpdateSystemMetrics(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateSystemMetrics(ctx)
		}
	}
}
