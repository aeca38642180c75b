// Package gate decides which stress workloads may run on the current
// hardware.  Each workload names the CPU features it exercises; a workload
// whose features are absent is skipped rather than started and left to
// fault on an illegal instruction.
//
// A false feature predicate means "cannot assume this feature", so a
// workload is only enabled on a positive answer.
package gate

import (
	"fmt"
	"strings"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

// Workload is a stress workload gated on CPU features.
type Workload struct {
	Name        string                `json:"name"`
	Requires    []cpufeatures.Feature `json:"requires"`
	AnyOf       bool                  `json:"any_of"` // one of Requires suffices
	Description string                `json:"description,omitempty"`
}

// Decision is the outcome of gating one workload.
type Decision struct {
	Workload Workload              `json:"workload"`
	Enabled  bool                  `json:"enabled"`
	Missing  []cpufeatures.Feature `json:"missing,omitempty"`
	Reason   string                `json:"reason"`
}

// DefaultCatalog returns the stress workloads that depend on the detected
// features.
func DefaultCatalog() []Workload {
	return []Workload{
		{Name: "tsc", Requires: []cpufeatures.Feature{cpufeatures.TSC}, Description: "time stamp counter reads"},
		{Name: "msr", Requires: []cpufeatures.Feature{cpufeatures.MSR}, Description: "model specific register reads"},
		{Name: "x86syscall", Requires: []cpufeatures.Feature{cpufeatures.SYSCALL}, Description: "raw SYSCALL instruction"},
		{Name: "rdrand", Requires: []cpufeatures.Feature{cpufeatures.RDRAND}, Description: "RDRAND throughput"},
		{Name: "rdseed", Requires: []cpufeatures.Feature{cpufeatures.RDSEED}, Description: "RDSEED throughput"},
		{Name: "cache-clflushopt", Requires: []cpufeatures.Feature{cpufeatures.CLFLUSHOPT}, Description: "cache thrashing with CLFLUSHOPT"},
		{Name: "cache-clwb", Requires: []cpufeatures.Feature{cpufeatures.CLWB}, Description: "cache thrashing with CLWB"},
		{Name: "cache-cldemote", Requires: []cpufeatures.Feature{cpufeatures.CLDEMOTE}, Description: "cache thrashing with CLDEMOTE"},
		{
			Name:        "cache-flush",
			Requires:    []cpufeatures.Feature{cpufeatures.CLFLUSHOPT, cpufeatures.CLWB},
			AnyOf:       true,
			Description: "cache line flushing with the best available instruction",
		},
	}
}

// FromConfig converts configured workloads.  An empty list yields the
// default catalog.
func FromConfig(cfgs []config.WorkloadConfig) ([]Workload, error) {
	if len(cfgs) == 0 {
		return DefaultCatalog(), nil
	}
	out := make([]Workload, 0, len(cfgs))
	for _, c := range cfgs {
		w := Workload{
			Name:        strings.TrimSpace(c.Name),
			AnyOf:       c.AnyOf,
			Description: c.Description,
		}
		for _, name := range c.Requires {
			f, err := cpufeatures.ParseFeature(name)
			if err != nil {
				return nil, fmt.Errorf("workload %q: %w", w.Name, err)
			}
			w.Requires = append(w.Requires, f)
		}
		out = append(out, w)
	}
	return out, nil
}

// Evaluate gates each workload against src.  Each feature is asked at most
// once per call, so a live Prober issues one query per distinct feature.
func Evaluate(src cpufeatures.FeatureSource, workloads []Workload) []Decision {
	answers := make(map[cpufeatures.Feature]bool)
	has := func(f cpufeatures.Feature) bool {
		v, ok := answers[f]
		if !ok {
			v = src.Has(f)
			answers[f] = v
		}
		return v
	}

	decisions := make([]Decision, 0, len(workloads))
	for _, w := range workloads {
		decisions = append(decisions, decide(w, has))
	}
	return decisions
}

func decide(w Workload, has func(cpufeatures.Feature) bool) Decision {
	d := Decision{Workload: w}
	if len(w.Requires) == 0 {
		d.Enabled = true
		d.Reason = "no CPU feature requirements"
		return d
	}

	var present []cpufeatures.Feature
	for _, f := range w.Requires {
		if has(f) {
			present = append(present, f)
		} else {
			d.Missing = append(d.Missing, f)
		}
	}

	switch {
	case w.AnyOf && len(present) > 0:
		d.Enabled = true
		d.Reason = fmt.Sprintf("%s available", joinFeatures(present, ", "))
	case w.AnyOf:
		d.Reason = fmt.Sprintf("none of %s available", joinFeatures(w.Requires, ", "))
	case len(d.Missing) == 0:
		d.Enabled = true
		d.Reason = fmt.Sprintf("%s available", joinFeatures(present, ", "))
	default:
		d.Reason = fmt.Sprintf("missing %s", joinFeatures(d.Missing, ", "))
	}
	return d
}

// Enabled returns the names of the enabled workloads.
func Enabled(decisions []Decision) []string {
	var out []string
	for _, d := range decisions {
		if d.Enabled {
			out = append(out, d.Workload.Name)
		}
	}
	return out
}

// String returns a one-line description of the decision.
func (d Decision) String() string {
	state := "skip"
	if d.Enabled {
		state = "run"
	}
	return fmt.Sprintf("%s: %s (%s)", d.Workload.Name, state, d.Reason)
}

// Table formats decisions for terminal output.
func Table(decisions []Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %-6s %-24s %s\n", "Workload", "State", "Requires", "Reason")
	b.WriteString(strings.Repeat("-", 78) + "\n")
	for _, d := range decisions {
		state := "skip"
		if d.Enabled {
			state = "run"
		}
		sep := " + "
		if d.Workload.AnyOf {
			sep = " | "
		}
		fmt.Fprintf(&b, "%-18s %-6s %-24s %s\n",
			d.Workload.Name, state, joinFeatures(d.Workload.Requires, sep), d.Reason)
	}
	return b.String()
}

func joinFeatures(fs []cpufeatures.Feature, sep string) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.String()
	}
	return strings.Join(names, sep)
}
