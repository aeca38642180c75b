// cpuprobe reports which gated x86 CPU features are usable on this host and
// which stress workloads may therefore run.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
	"git.uuxo.net/uuxo/cpuprobe/internal/crosscheck"
	"git.uuxo.net/uuxo/cpuprobe/internal/gate"
	"git.uuxo.net/uuxo/cpuprobe/internal/handlers"
	"git.uuxo.net/uuxo/cpuprobe/internal/logging"
	"git.uuxo.net/uuxo/cpuprobe/internal/metrics"
	"git.uuxo.net/uuxo/cpuprobe/internal/publish"
	"git.uuxo.net/uuxo/cpuprobe/internal/server"
	"git.uuxo.net/uuxo/cpuprobe/internal/storage"
	"git.uuxo.net/uuxo/cpuprobe/internal/topology"
	"git.uuxo.net/uuxo/cpuprobe/internal/workers"
)

// Exit codes.
const (
	exitOK      = 0
	exitMissing = 1 // a queried or required feature is absent, or an action failed
	exitUsage   = 2
)

var log = logrus.New()

type options struct {
	configFile string
	format     string
	feature    string
	require    string
	workloads  bool
	perCPU     bool
	crossCheck bool
	record     bool
	publish    bool
	fleet      bool
	serve      bool
	textfile   string
	genConfig  bool
	version    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("cpuprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configFile, "config", "", "Path to configuration file \"config.toml\" (defaults only when empty).")
	fs.StringVar(&o.format, "format", "text", "Report format: text, json or toml.")
	fs.StringVar(&o.feature, "feature", "", "Query a single feature; exit 0 if present, 1 if not.")
	fs.StringVar(&o.require, "require", "", "Comma-separated features that must all be present; exit 1 otherwise.")
	fs.BoolVar(&o.workloads, "workloads", false, "Include workload gating decisions in the report.")
	fs.BoolVar(&o.perCPU, "percpu", false, "Probe every logical CPU separately.")
	fs.BoolVar(&o.crossCheck, "crosscheck", false, "Compare CPUID with x/sys/cpu, klauspost/cpuid and /proc/cpuinfo.")
	fs.BoolVar(&o.record, "record", false, "Record the run in the history database and report changes.")
	fs.BoolVar(&o.publish, "publish", false, "Publish the snapshot to Redis.")
	fs.BoolVar(&o.fleet, "fleet", false, "Report the features every host published to Redis and exit.")
	fs.BoolVar(&o.serve, "serve", false, "Serve /metrics, /features and /workloads until interrupted.")
	fs.StringVar(&o.textfile, "textfile", "", "Write metrics for the node_exporter textfile collector to this path.")
	fs.BoolVar(&o.genConfig, "genconfig", false, "Print minimal configuration example and exit.")
	fs.BoolVar(&o.version, "version", false, "Show version information and exit.")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	switch o.format {
	case "text", "json", "toml":
	default:
		return nil, fmt.Errorf("unknown format %q", o.format)
	}
	return &o, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	if opts.genConfig {
		fmt.Fprint(stdout, config.GenerateMinimalConfig())
		return exitOK
	}
	if opts.version {
		fmt.Fprintf(stdout, "cpuprobe version %s\n", config.DefaultConfig().Build.Version)
		return exitOK
	}

	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return exitUsage
	}
	applyFlags(cfg, opts)
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitUsage
	}

	log = logrus.New()
	logging.SetupLogging(cfg, log)
	if cfg.Logging.File == "" {
		log.SetOutput(stderr)
	}
	setLoggers(log)

	if opts.fleet {
		return reportFleet(cfg, opts.format, stdout, stderr)
	}

	prober := cpufeatures.Default()

	if opts.feature != "" {
		return queryFeature(prober, opts.feature, stdout, stderr)
	}
	if opts.require != "" {
		if code := requireFeatures(prober, opts.require, stdout, stderr); code != exitOK {
			return code
		}
	}

	logging.LogSystemInfo(log, cfg.Build.Version)

	workloads, err := gate.FromConfig(cfg.Workloads)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitUsage
	}

	if cfg.Metrics.Enabled {
		return serve(cfg, prober, workloads)
	}

	ctx := context.Background()
	rep, code := buildReport(ctx, cfg, opts, prober, workloads)

	if opts.textfile != "" || cfg.Metrics.Textfile != "" {
		path := opts.textfile
		if path == "" {
			path = cfg.Metrics.Textfile
		}
		if err := writeTextfile(path, rep, workloads); err != nil {
			log.Errorf("Failed to write metrics textfile: %v", err)
			code = exitMissing
		}
	}

	if err := writeReport(stdout, opts.format, rep); err != nil {
		fmt.Fprintf(stderr, "Failed to write report: %v\n", err)
		return exitMissing
	}
	return code
}

// applyFlags lets command-line switches enable config sections.
func applyFlags(cfg *config.Config, o *options) {
	if o.perCPU {
		cfg.Probe.PerCPU = true
	}
	if o.crossCheck {
		cfg.Probe.CrossCheck = true
	}
	if o.record {
		cfg.History.Enabled = true
	}
	if o.publish {
		cfg.Redis.Enabled = true
	}
	if o.serve {
		cfg.Metrics.Enabled = true
	}
}

func setLoggers(l *logrus.Logger) {
	config.SetLogger(l)
	crosscheck.SetLogger(l)
	handlers.SetLogger(l)
	metrics.SetLogger(l)
	publish.SetLogger(l)
	server.SetLogger(l)
	storage.SetLogger(l)
	topology.SetLogger(l)
	workers.SetLogger(l)
}

func queryFeature(p *cpufeatures.Prober, name string, stdout, stderr io.Writer) int {
	f, err := cpufeatures.ParseFeature(name)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if p.Has(f) {
		fmt.Fprintf(stdout, "%s: yes\n", f)
		return exitOK
	}
	fmt.Fprintf(stdout, "%s: no\n", f)
	return exitMissing
}

func requireFeatures(p *cpufeatures.Prober, list string, stdout, stderr io.Writer) int {
	var missing []string
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		f, err := cpufeatures.ParseFeature(name)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitUsage
		}
		if !p.Has(f) {
			missing = append(missing, f.String())
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(stdout, "missing required features: %s\n", strings.Join(missing, ", "))
		return exitMissing
	}
	return exitOK
}

func writeTextfile(path string, rep *report, workloads []gate.Workload) error {
	reg := prometheus.NewRegistry()
	metrics.InitMetrics(reg)
	snap := rep.Snapshot
	reg.MustRegister(metrics.NewFeatureCollector(func() *cpufeatures.Snapshot { return snap }))

	enabled := make(map[string]bool, len(workloads))
	for _, d := range gate.Evaluate(rep.source(), workloads) {
		enabled[d.Workload.Name] = d.Enabled
	}
	metrics.SetWorkloads(enabled)
	if rep.CrossCheck != nil {
		metrics.CrossCheckMismatches.Set(float64(len(rep.CrossCheck.Mismatches)))
	}
	return metrics.WriteTextfile(path, reg)
}
