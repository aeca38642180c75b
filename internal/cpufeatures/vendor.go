package cpufeatures

import "encoding/binary"

const genuineIntel = "GenuineIntel"

// VendorID reconstructs the 12-byte vendor string from a leaf 0 result.
// The bytes are laid out across EBX, EDX and ECX, in that order.
func VendorID(r Regs) string {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], r.EBX)
	binary.LittleEndian.PutUint32(b[4:8], r.EDX)
	binary.LittleEndian.PutUint32(b[8:12], r.ECX)
	return string(b[:])
}

// IsGenuineIntel reports whether a leaf 0 result carries the vendor string
// "GenuineIntel".
func IsGenuineIntel(r Regs) bool {
	return VendorID(r) == genuineIntel
}

// IsX86Compatible reports whether the CPU identifies itself as GenuineIntel.
// The feature bit positions used by Has are only trusted when this is true.
func (p *Prober) IsX86Compatible() bool {
	return IsGenuineIntel(p.q.CPUID(LeafVendor, 0))
}

// IsX86Compatible reports whether the running CPU is GenuineIntel.
// Always false on non-x86 builds.
func IsX86Compatible() bool {
	return hardwareProber.IsX86Compatible()
}
