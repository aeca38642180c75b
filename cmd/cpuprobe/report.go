package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
	"git.uuxo.net/uuxo/cpuprobe/internal/crosscheck"
	"git.uuxo.net/uuxo/cpuprobe/internal/gate"
	"git.uuxo.net/uuxo/cpuprobe/internal/logging"
	"git.uuxo.net/uuxo/cpuprobe/internal/publish"
	"git.uuxo.net/uuxo/cpuprobe/internal/storage"
	"git.uuxo.net/uuxo/cpuprobe/internal/topology"
)

// report is everything one invocation found out.
type report struct {
	Host          string                `json:"host"`
	Snapshot      *cpufeatures.Snapshot `json:"snapshot"`
	CPUs          []cpuEntry            `json:"cpus,omitempty"`
	Heterogeneous []cpufeatures.Feature `json:"heterogeneous,omitempty"`
	Workloads     []gate.Decision       `json:"workloads,omitempty"`
	CrossCheck    *crosscheck.Report    `json:"crosscheck,omitempty"`
	Changes       []storage.Change      `json:"changes,omitempty"`
	Published     bool                  `json:"published,omitempty"`

	common cpufeatures.FeatureSource
}

type cpuEntry struct {
	CPU      int      `json:"cpu" toml:"cpu"`
	Pinned   bool     `json:"pinned" toml:"pinned"`
	Features []string `json:"features" toml:"features"`
	Error    string   `json:"error,omitempty" toml:"error,omitempty"`
}

// source is what workloads are gated on: the features common to every CPU
// when probed per CPU, otherwise the single snapshot.
func (r *report) source() cpufeatures.FeatureSource {
	if r.common != nil {
		return r.common
	}
	return r.Snapshot
}

func buildReport(ctx context.Context, cfg *config.Config, opts *options, p *cpufeatures.Prober, workloads []gate.Workload) (*report, int) {
	code := exitOK
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	rep := &report{Host: host, Snapshot: p.Detect()}
	logging.LogSnapshot(log, rep.Snapshot)

	if cfg.Probe.PerCPU {
		results, err := topology.ProbeAll(ctx, p, nil, cfg.Probe.Workers)
		if err != nil {
			log.Errorf("Per-CPU probe failed: %v", err)
			code = exitMissing
		}
		for _, r := range results {
			e := cpuEntry{CPU: r.CPU, Pinned: r.Pinned}
			if r.Err != nil {
				e.Error = r.Err.Error()
			} else {
				e.Features = r.Snapshot.SupportedExtensions()
			}
			rep.CPUs = append(rep.CPUs, e)
		}
		if len(results) > 0 {
			rep.common = topology.CommonSource(topology.Common(results))
		}
		rep.Heterogeneous = topology.Heterogeneous(results)
		if len(rep.Heterogeneous) > 0 {
			log.Warnf("CPUs disagree on features: %s", featureNames(rep.Heterogeneous))
		}
	}

	if opts.workloads {
		rep.Workloads = gate.Evaluate(rep.source(), workloads)
		for _, d := range rep.Workloads {
			log.Debug(d.String())
		}
	}

	if cfg.Probe.CrossCheck {
		cc := crosscheck.Run(ctx, rep.Snapshot)
		rep.CrossCheck = &cc
	}

	if cfg.History.Enabled {
		changes, err := recordHistory(ctx, cfg.History, host, rep.Snapshot)
		if err != nil {
			log.Errorf("Failed to record probe history: %v", err)
			code = exitMissing
		}
		rep.Changes = changes
	}

	if cfg.Redis.Enabled {
		if err := publishSnapshot(ctx, cfg, host, rep.Snapshot); err != nil {
			log.Errorf("Failed to publish snapshot: %v", err)
			code = exitMissing
		} else {
			rep.Published = true
		}
	}
	return rep, code
}

func recordHistory(ctx context.Context, hc config.HistoryConfig, host string, snap *cpufeatures.Snapshot) ([]storage.Change, error) {
	store, err := storage.Open(hc.Path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	prev, err := store.LatestRuns(ctx, host, 1)
	if err != nil {
		return nil, err
	}
	run, err := store.RecordRun(ctx, host, snap)
	if err != nil {
		return nil, err
	}

	var changes []storage.Change
	if len(prev) > 0 {
		changes = storage.Changes(prev[0], run)
		for _, c := range changes {
			log.Warnf("Feature change since %s: %s", prev[0].TakenAt.Format(time.RFC3339), c)
		}
	}
	if _, err := store.Prune(ctx, host, hc.Keep); err != nil {
		log.Warnf("Failed to prune history: %v", err)
	}
	return changes, nil
}

func publishSnapshot(ctx context.Context, cfg *config.Config, host string, snap *cpufeatures.Snapshot) error {
	pub := publish.NewPublisher(cfg.Redis)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Redis)
	defer cancel()
	if err := pub.Ping(ctx); err != nil {
		return err
	}
	return pub.Publish(ctx, host, snap)
}

func writeReport(w io.Writer, format string, rep *report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "toml":
		out, err := toml.Marshal(rep.tomlDoc())
		if err != nil {
			return fmt.Errorf("encode toml: %w", err)
		}
		_, err = w.Write(out)
		return err
	default:
		return writeText(w, rep)
	}
}

// tomlReport is the TOML shape of a report.  TOML keys must be strings, so
// features are keyed by name.
type tomlReport struct {
	Host            string               `toml:"host"`
	Arch            string               `toml:"arch"`
	IntelCompatible bool                 `toml:"intel_compatible"`
	TakenAt         time.Time            `toml:"taken_at"`
	Identity        cpufeatures.Identity `toml:"identity"`
	Features        map[string]bool      `toml:"features"`
	Heterogeneous   []string             `toml:"heterogeneous,omitempty"`
	Enabled         []string             `toml:"enabled_workloads,omitempty"`
	Mismatches      []string             `toml:"crosscheck_mismatches,omitempty"`
	Changes         []string             `toml:"changes,omitempty"`
	CPUs            []cpuEntry           `toml:"cpus,omitempty"`
}

func (r *report) tomlDoc() tomlReport {
	doc := tomlReport{
		Host:            r.Host,
		Arch:            r.Snapshot.Arch,
		IntelCompatible: r.Snapshot.IntelCompatible,
		TakenAt:         r.Snapshot.TakenAt,
		Identity:        r.Snapshot.Identity,
		Features:        r.Snapshot.Flags(),
		Enabled:         gate.Enabled(r.Workloads),
		CPUs:            r.CPUs,
	}
	if len(r.Heterogeneous) > 0 {
		doc.Heterogeneous = strings.Split(featureNames(r.Heterogeneous), ", ")
	}
	if r.CrossCheck != nil {
		for _, m := range r.CrossCheck.Mismatches {
			doc.Mismatches = append(doc.Mismatches, m.String())
		}
	}
	for _, c := range r.Changes {
		doc.Changes = append(doc.Changes, c.String())
	}
	return doc
}

func writeText(w io.Writer, r *report) error {
	s := r.Snapshot
	id := s.Identity
	var b strings.Builder

	fmt.Fprintf(&b, "Host:       %s\n", r.Host)
	fmt.Fprintf(&b, "Arch:       %s\n", s.Arch)
	fmt.Fprintf(&b, "Vendor:     %s\n", orDash(id.Vendor))
	fmt.Fprintf(&b, "Brand:      %s\n", orDash(id.BrandName))
	fmt.Fprintf(&b, "Signature:  family 0x%x model 0x%x stepping %d\n", id.Family, id.Model, id.Stepping)
	fmt.Fprintf(&b, "Intel:      %s\n", yesNo(s.IntelCompatible))
	b.WriteString("\nFeatures:\n")
	for _, f := range cpufeatures.AllFeatures() {
		fmt.Fprintf(&b, "  %-12s %s\n", f, yesNo(s.Has(f)))
	}

	if len(r.CPUs) > 0 {
		fmt.Fprintf(&b, "\nPer-CPU:    %d CPUs probed", len(r.CPUs))
		if len(r.Heterogeneous) > 0 {
			fmt.Fprintf(&b, ", disagree on %s\n", featureNames(r.Heterogeneous))
		} else {
			b.WriteString(", all agree\n")
		}
		for _, c := range r.CPUs {
			if c.Error != "" {
				fmt.Fprintf(&b, "  cpu%-4d error: %s\n", c.CPU, c.Error)
			}
		}
	}

	if len(r.Workloads) > 0 {
		b.WriteString("\n")
		b.WriteString(gate.Table(r.Workloads))
	}

	if cc := r.CrossCheck; cc != nil {
		fmt.Fprintf(&b, "\nCross-check: %s\n", strings.Join(cc.Checked, ", "))
		for name, why := range cc.Skipped {
			fmt.Fprintf(&b, "  skipped %s: %s\n", name, why)
		}
		if cc.OK() {
			b.WriteString("  no mismatches\n")
		}
		for _, m := range cc.Mismatches {
			fmt.Fprintf(&b, "  mismatch %s\n", m)
		}
	}

	if len(r.Changes) > 0 {
		b.WriteString("\nChanges since last run:\n")
		for _, c := range r.Changes {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}
	if r.Published {
		b.WriteString("\nPublished to Redis.\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func featureNames(fs []cpufeatures.Feature) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.String()
	}
	return strings.Join(names, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
