//go:build (386 || amd64) && gc && !purego

package cpufeatures

const hardwareAvailable = true

// cpuid executes the CPUID instruction with the given EAX and ECX inputs.
// Returns EAX, EBX, ECX, EDX outputs.
// Defined in cpuid_x86.s
func cpuid(eaxArg, ecxArg uint32) (eax, ebx, ecx, edx uint32)

type hardwareQuerier struct{}

func (hardwareQuerier) CPUID(leaf, subleaf uint32) Regs {
	eax, ebx, ecx, edx := cpuid(leaf, subleaf)
	return Regs{EAX: eax, EBX: ebx, ECX: ecx, EDX: edx}
}
