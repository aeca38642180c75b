//go:build !(386 || amd64) || !gc || purego

package cpufeatures

const hardwareAvailable = false

// hardwareQuerier is the stub used where CPUID cannot be executed.
// It reports all-zero registers, so every predicate degrades to false.
type hardwareQuerier struct{}

func (hardwareQuerier) CPUID(leaf, subleaf uint32) Regs {
	return Regs{}
}
