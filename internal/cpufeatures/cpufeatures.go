// Package cpufeatures detects x86 CPU identity and the instruction set
// extensions that gate stress workloads.  Detection is done with the CPUID
// instruction and nothing is cached unless the caller opts in with a Cache:
// every predicate re-issues the hardware query so a thread migrated between
// heterogeneous cores never sees stale answers.
//
// Detected features:
//   - TSC        – time stamp counter (RDTSC)
//   - MSR        – model specific registers (RDMSR/WRMSR)
//   - SYSCALL    – SYSCALL/SYSRET fast system calls
//   - RDRAND     – on-chip random number generator
//   - RDSEED     – on-chip entropy source
//   - CLFLUSHOPT – optimised cache line flush
//   - CLWB       – cache line write back
//   - CLDEMOTE   – cache line demote
//
// Feature bits are Intel's documented encoding, so every predicate first
// confirms the vendor string is "GenuineIntel" and reports false otherwise.
// On non-x86 builds the CPUID primitive returns zero registers and every
// predicate reports false.
package cpufeatures

// Regs holds the four CPUID output registers.
type Regs struct {
	EAX uint32
	EBX uint32
	ECX uint32
	EDX uint32
}

// Register selects one of the CPUID output registers.
type Register uint8

const (
	EAX Register = iota
	EBX
	ECX
	EDX
)

// String returns the register name.
func (r Register) String() string {
	switch r {
	case EAX:
		return "EAX"
	case EBX:
		return "EBX"
	case ECX:
		return "ECX"
	case EDX:
		return "EDX"
	default:
		return "unknown"
	}
}

// Get returns the value of register r.
func (r Regs) Get(reg Register) uint32 {
	switch reg {
	case EAX:
		return r.EAX
	case EBX:
		return r.EBX
	case ECX:
		return r.ECX
	case EDX:
		return r.EDX
	default:
		return 0
	}
}

// Querier issues a CPUID query for a leaf and sub-leaf.  The hardware
// implementation is selected at build time; tests substitute their own.
type Querier interface {
	CPUID(leaf, subleaf uint32) Regs
}

// Standard CPUID leaves used by this package.
const (
	LeafVendor       uint32 = 0x0
	LeafFeatures     uint32 = 0x1
	LeafExtFeatures  uint32 = 0x7
	LeafExtMax       uint32 = 0x80000000
	LeafExtFunctions uint32 = 0x80000001
	LeafBrandFirst   uint32 = 0x80000002
	LeafBrandLast    uint32 = 0x80000004
)

// Hardware returns the build-selected CPUID implementation.  On 386 and
// amd64 it executes the instruction; everywhere else it reports zeros.
func Hardware() Querier {
	return hardwareQuerier{}
}

// HardwareAvailable reports whether this build executes the real CPUID
// instruction rather than the all-zero stub.
func HardwareAvailable() bool {
	return hardwareAvailable
}

// CPUID issues a raw query against the hardware.  The result is returned
// unmodified; interpreting it is up to the caller.
func CPUID(leaf, subleaf uint32) Regs {
	return Hardware().CPUID(leaf, subleaf)
}

// Prober evaluates vendor and feature predicates against a Querier.
// A Prober holds no mutable state and is safe for concurrent use as long
// as its Querier is.
type Prober struct {
	q Querier
}

// NewProber returns a Prober backed by q.  A nil q selects the hardware.
func NewProber(q Querier) *Prober {
	if q == nil {
		q = Hardware()
	}
	return &Prober{q: q}
}

var hardwareProber = &Prober{q: Hardware()}

// Default returns the Prober backed by the hardware.
func Default() *Prober {
	return hardwareProber
}

// FeatureSource is anything that can answer a feature predicate: a live
// Prober, a Cache or a previously taken Snapshot.
type FeatureSource interface {
	Has(f Feature) bool
}
