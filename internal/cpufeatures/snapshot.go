package cpufeatures

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Snapshot is the result of probing every feature once.  It is a value:
// later hardware changes are not reflected, and callers must not modify a
// Snapshot shared through a Cache.
type Snapshot struct {
	Arch            string           `json:"arch"`
	Identity        Identity         `json:"identity"`
	IntelCompatible bool             `json:"intel_compatible"`
	Features        map[Feature]bool `json:"features"`
	TakenAt         time.Time        `json:"taken_at"`
}

// Detect probes identity and all features.  Nothing is cached: each call
// re-issues CPUID.  Within one call every distinct leaf is queried once.
func (p *Prober) Detect() *Snapshot {
	s := &Snapshot{
		Arch:     runtime.GOARCH,
		Identity: p.Identity(),
		Features: make(map[Feature]bool, featureCount),
		TakenAt:  time.Now().UTC(),
	}
	s.IntelCompatible = p.IsX86Compatible()

	type leafKey struct{ leaf, subleaf uint32 }
	results := make(map[leafKey]Regs)
	for f := Feature(0); f < featureCount; f++ {
		if !s.IntelCompatible {
			s.Features[f] = false
			continue
		}
		spec := featureTable[f]
		key := leafKey{spec.leaf, spec.subleaf}
		r, ok := results[key]
		if !ok {
			r = p.q.CPUID(spec.leaf, spec.subleaf)
			results[key] = r
		}
		s.Features[f] = spec.test(r)
	}
	return s
}

// Detect probes the running CPU.
func Detect() *Snapshot {
	return hardwareProber.Detect()
}

// Has reports the recorded value for f.
func (s *Snapshot) Has(f Feature) bool {
	return s.Features[f]
}

// SupportedExtensions returns the names of the detected features in table
// order.
func (s *Snapshot) SupportedExtensions() []string {
	var out []string
	for f := Feature(0); f < featureCount; f++ {
		if s.Features[f] {
			out = append(out, f.String())
		}
	}
	return out
}

// Flags returns every feature keyed by name, present or not.
func (s *Snapshot) Flags() map[string]bool {
	out := make(map[string]bool, featureCount)
	for f := Feature(0); f < featureCount; f++ {
		out[f.String()] = s.Features[f]
	}
	return out
}

// Summary returns a one-line string suitable for log output, e.g.
// "TSC MSR SYSCALL RDRAND (GenuineIntel)".
func (s *Snapshot) Summary() string {
	vendor := s.Identity.Vendor
	if vendor == "" {
		vendor = s.Arch
	}
	exts := s.SupportedExtensions()
	if len(exts) == 0 {
		return fmt.Sprintf("no gated features detected (%s/%s)", s.Arch, vendor)
	}
	return fmt.Sprintf("%s (%s)", strings.Join(exts, " "), vendor)
}
