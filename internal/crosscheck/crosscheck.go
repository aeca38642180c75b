// Package crosscheck compares the CPUID-derived feature set with other
// detectors: the Go runtime's view (golang.org/x/sys/cpu), klauspost/cpuid
// and the flags the kernel reports in /proc/cpuinfo (via gopsutil).
//
// Disagreement usually means a hypervisor masks a leaf for the kernel but
// not for user space, or the kernel disabled a feature on the command line
// (e.g. clearcpuid=).  Either way a stress run should know about it.
package crosscheck

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"
	syscpu "golang.org/x/sys/cpu"

	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Source is an independent feature detector.  Flags returns only the
// features the source knows about.
type Source interface {
	Name() string
	Flags(ctx context.Context) (map[cpufeatures.Feature]bool, error)
}

// Mismatch is one feature on which a source disagrees with CPUID.
type Mismatch struct {
	Feature cpufeatures.Feature `json:"feature"`
	Source  string              `json:"source"`
	CPUID   bool                `json:"cpuid"`
	Other   bool                `json:"other"`
}

// String describes the mismatch.
func (m Mismatch) String() string {
	return fmt.Sprintf("%s: cpuid=%t %s=%t", m.Feature, m.CPUID, m.Source, m.Other)
}

// Report is the outcome of a cross-check.
type Report struct {
	Checked    []string          `json:"checked"`
	Skipped    map[string]string `json:"skipped,omitempty"`
	Mismatches []Mismatch        `json:"mismatches,omitempty"`
}

// OK reports whether every checked source agreed.
func (r Report) OK() bool {
	return len(r.Mismatches) == 0
}

// DefaultSources returns the built-in detectors.
func DefaultSources() []Source {
	return []Source{sysCPUSource{}, klauspostSource{}, cpuInfoSource{}}
}

// Run compares snap with the default sources.
func Run(ctx context.Context, snap *cpufeatures.Snapshot) Report {
	return Compare(ctx, snap, DefaultSources()...)
}

// Compare checks snap against each source.  A snapshot that is not
// Intel-compatible reports every feature absent by design, so nothing is
// compared and all sources are skipped.
func Compare(ctx context.Context, snap *cpufeatures.Snapshot, sources ...Source) Report {
	rep := Report{Skipped: map[string]string{}}
	if !snap.IntelCompatible {
		for _, s := range sources {
			rep.Skipped[s.Name()] = "CPU is not GenuineIntel"
		}
		return rep
	}

	for _, s := range sources {
		flags, err := s.Flags(ctx)
		if err != nil {
			rep.Skipped[s.Name()] = err.Error()
			log.Debugf("Cross-check source %s skipped: %v", s.Name(), err)
			continue
		}
		rep.Checked = append(rep.Checked, s.Name())

		features := make([]cpufeatures.Feature, 0, len(flags))
		for f := range flags {
			features = append(features, f)
		}
		sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })

		for _, f := range features {
			if other := flags[f]; other != snap.Has(f) {
				m := Mismatch{Feature: f, Source: s.Name(), CPUID: snap.Has(f), Other: other}
				rep.Mismatches = append(rep.Mismatches, m)
				log.Warnf("Cross-check mismatch: %s", m)
			}
		}
	}
	return rep
}

func isX86() bool {
	return runtime.GOARCH == "amd64" || runtime.GOARCH == "386"
}

// sysCPUSource reads the flags the Go runtime detected at startup.
type sysCPUSource struct{}

func (sysCPUSource) Name() string { return "x/sys/cpu" }

func (sysCPUSource) Flags(ctx context.Context) (map[cpufeatures.Feature]bool, error) {
	if !isX86() {
		return nil, fmt.Errorf("not an x86 build (%s)", runtime.GOARCH)
	}
	return map[cpufeatures.Feature]bool{
		cpufeatures.RDRAND: syscpu.X86.HasRDRAND,
		cpufeatures.RDSEED: syscpu.X86.HasRDSEED,
	}, nil
}

// klauspostSource reads github.com/klauspost/cpuid/v2.
type klauspostSource struct{}

func (klauspostSource) Name() string { return "klauspost/cpuid" }

func (klauspostSource) Flags(ctx context.Context) (map[cpufeatures.Feature]bool, error) {
	if cpuid.CPU.VendorID != cpuid.Intel {
		return nil, fmt.Errorf("vendor %s", cpuid.CPU.VendorString)
	}
	return map[cpufeatures.Feature]bool{
		cpufeatures.RDRAND:   cpuid.CPU.Supports(cpuid.RDRAND),
		cpufeatures.RDSEED:   cpuid.CPU.Supports(cpuid.RDSEED),
		cpufeatures.CLDEMOTE: cpuid.CPU.Supports(cpuid.CLDEMOTE),
	}, nil
}

// cpuInfoSource reads the kernel's flags through gopsutil.
type cpuInfoSource struct{}

func (cpuInfoSource) Name() string { return "cpuinfo" }

func (cpuInfoSource) Flags(ctx context.Context) (map[cpufeatures.Feature]bool, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cpu info: %w", err)
	}
	if len(infos) == 0 || len(infos[0].Flags) == 0 {
		return nil, fmt.Errorf("no CPU flags reported by %s", runtime.GOOS)
	}
	return FlagsFromCPUInfo(infos[0].Flags), nil
}

// FlagsFromCPUInfo maps Linux /proc/cpuinfo flag names onto features.
// Every feature is present in the result; absent flags map to false.
func FlagsFromCPUInfo(flags []string) map[cpufeatures.Feature]bool {
	set := make(map[string]bool, len(flags))
	for _, fl := range flags {
		set[fl] = true
	}
	out := make(map[cpufeatures.Feature]bool)
	for _, f := range cpufeatures.AllFeatures() {
		out[f] = set[f.CPUInfoFlag()]
	}
	return out
}
