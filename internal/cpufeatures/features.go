package cpufeatures

import (
	"errors"
	"fmt"
	"strings"
)

// Feature identifies one detectable instruction set extension.
type Feature uint8

const (
	TSC Feature = iota
	MSR
	SYSCALL
	RDSEED
	RDRAND
	CLFLUSHOPT
	CLWB
	CLDEMOTE

	featureCount
)

// ErrUnknownFeature is returned by ParseFeature for names outside the table.
var ErrUnknownFeature = errors.New("unknown CPU feature")

// featureSpec locates a feature bit: the leaf/sub-leaf to query, the output
// register it lives in and its bit index.
type featureSpec struct {
	name    string
	flag    string // Linux /proc/cpuinfo flag
	leaf    uint32
	subleaf uint32
	reg     Register
	bit     uint
}

var featureTable = [featureCount]featureSpec{
	TSC:        {name: "TSC", flag: "tsc", leaf: LeafFeatures, reg: EDX, bit: 4},
	MSR:        {name: "MSR", flag: "msr", leaf: LeafFeatures, reg: EDX, bit: 5},
	SYSCALL:    {name: "SYSCALL", flag: "syscall", leaf: LeafExtFunctions, reg: EDX, bit: 11},
	RDSEED:     {name: "RDSEED", flag: "rdseed", leaf: LeafExtFeatures, reg: EBX, bit: 18},
	RDRAND:     {name: "RDRAND", flag: "rdrand", leaf: LeafFeatures, reg: ECX, bit: 30},
	CLFLUSHOPT: {name: "CLFLUSHOPT", flag: "clflushopt", leaf: LeafExtFeatures, reg: EBX, bit: 23},
	CLWB:       {name: "CLWB", flag: "clwb", leaf: LeafExtFeatures, reg: EBX, bit: 24},
	CLDEMOTE:   {name: "CLDEMOTE", flag: "cldemote", leaf: LeafExtFeatures, reg: ECX, bit: 25},
}

func (s featureSpec) mask() uint32 {
	return 1 << s.bit
}

func (s featureSpec) test(r Regs) bool {
	return r.Get(s.reg)&s.mask() != 0
}

// AllFeatures returns every detectable feature in table order.
func AllFeatures() []Feature {
	out := make([]Feature, 0, featureCount)
	for f := Feature(0); f < featureCount; f++ {
		out = append(out, f)
	}
	return out
}

// ParseFeature resolves a feature name, case-insensitively.  Linux cpuinfo
// flag names are accepted too since they only differ in case.
func ParseFeature(name string) (Feature, error) {
	name = strings.TrimSpace(name)
	for f := Feature(0); f < featureCount; f++ {
		if strings.EqualFold(featureTable[f].name, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
}

func (f Feature) valid() bool {
	return f < featureCount
}

// String returns the feature name, e.g. "CLWB".
func (f Feature) String() string {
	if !f.valid() {
		return fmt.Sprintf("Feature(%d)", uint8(f))
	}
	return featureTable[f].name
}

// CPUInfoFlag returns the name Linux uses for the feature in /proc/cpuinfo.
func (f Feature) CPUInfoFlag() string {
	if !f.valid() {
		return ""
	}
	return featureTable[f].flag
}

// Leaf returns the CPUID leaf and sub-leaf that report the feature.
func (f Feature) Leaf() (leaf, subleaf uint32) {
	if !f.valid() {
		return 0, 0
	}
	return featureTable[f].leaf, featureTable[f].subleaf
}

// Register returns the output register holding the feature bit.
func (f Feature) Register() Register {
	if !f.valid() {
		return EAX
	}
	return featureTable[f].reg
}

// Bit returns the bit index of the feature within its register.
func (f Feature) Bit() uint {
	if !f.valid() {
		return 0
	}
	return featureTable[f].bit
}

// MarshalText implements encoding.TextMarshaler so features can key JSON maps.
func (f Feature) MarshalText() ([]byte, error) {
	if !f.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFeature, uint8(f))
	}
	return []byte(featureTable[f].name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Feature) UnmarshalText(text []byte) error {
	parsed, err := ParseFeature(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Has reports whether the CPU is GenuineIntel and sets the bit for f.
// The vendor check runs first; when it fails the feature leaf is never
// queried.  Unknown features report false.
func (p *Prober) Has(f Feature) bool {
	if !f.valid() {
		return false
	}
	if !p.IsX86Compatible() {
		return false
	}
	spec := featureTable[f]
	return spec.test(p.q.CPUID(spec.leaf, spec.subleaf))
}

// Predicate returns a closure over Has for f, for callers that keep a table
// of checks keyed by workload.
func (p *Prober) Predicate(f Feature) func() bool {
	return func() bool { return p.Has(f) }
}

// HasTSC through HasCLDEMOTE are shorthands for Has with the named feature.
// Each returns false on non-Intel vendors and on builds without CPUID.
func (p *Prober) HasTSC() bool        { return p.Has(TSC) }
func (p *Prober) HasMSR() bool        { return p.Has(MSR) }
func (p *Prober) HasSYSCALL() bool    { return p.Has(SYSCALL) }
func (p *Prober) HasRDSEED() bool     { return p.Has(RDSEED) }
func (p *Prober) HasRDRAND() bool     { return p.Has(RDRAND) }
func (p *Prober) HasCLFLUSHOPT() bool { return p.Has(CLFLUSHOPT) }
func (p *Prober) HasCLWB() bool       { return p.Has(CLWB) }
func (p *Prober) HasCLDEMOTE() bool   { return p.Has(CLDEMOTE) }

// Has reports whether the running CPU supports f.
func Has(f Feature) bool { return hardwareProber.Has(f) }

// HasTSC reports whether RDTSC is available.
func HasTSC() bool { return hardwareProber.Has(TSC) }

// HasMSR reports whether RDMSR/WRMSR are available.
func HasMSR() bool { return hardwareProber.Has(MSR) }

// HasSYSCALL reports whether SYSCALL/SYSRET are available.
func HasSYSCALL() bool { return hardwareProber.Has(SYSCALL) }

// HasRDSEED reports whether RDSEED is available.
func HasRDSEED() bool { return hardwareProber.Has(RDSEED) }

// HasRDRAND reports whether RDRAND is available.
func HasRDRAND() bool { return hardwareProber.Has(RDRAND) }

// HasCLFLUSHOPT reports whether CLFLUSHOPT is available.
func HasCLFLUSHOPT() bool { return hardwareProber.Has(CLFLUSHOPT) }

// HasCLWB reports whether CLWB is available.
func HasCLWB() bool { return hardwareProber.Has(CLWB) }

// HasCLDEMOTE reports whether CLDEMOTE is available.
func HasCLDEMOTE() bool { return hardwareProber.Has(CLDEMOTE) }
