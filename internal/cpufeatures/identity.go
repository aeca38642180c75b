package cpufeatures

import (
	"encoding/binary"
	"strings"
)

// Identity describes the processor as reported by the standard CPUID leaves.
// It is vendor-neutral; no Intel check is applied.
type Identity struct {
	Vendor     string `json:"vendor" toml:"vendor"`
	BrandName  string `json:"brand_name" toml:"brand_name"`
	Family     int    `json:"family" toml:"family"`
	Model      int    `json:"model" toml:"model"`
	Stepping   int    `json:"stepping" toml:"stepping"`
	MaxLeaf    uint32 `json:"max_leaf" toml:"max_leaf"`
	MaxExtLeaf uint32 `json:"max_ext_leaf" toml:"max_ext_leaf"`
}

// Identity reads vendor, signature and brand string.  On stub builds every
// field is empty.
func (p *Prober) Identity() Identity {
	leaf0 := p.q.CPUID(LeafVendor, 0)
	id := Identity{MaxLeaf: leaf0.EAX}
	if leaf0.EBX|leaf0.ECX|leaf0.EDX != 0 {
		id.Vendor = strings.TrimRight(VendorID(leaf0), "\x00")
	}

	if id.MaxLeaf >= LeafFeatures {
		id.Family, id.Model, id.Stepping = decodeSignature(p.q.CPUID(LeafFeatures, 0).EAX)
	}

	ext := p.q.CPUID(LeafExtMax, 0).EAX
	if ext&LeafExtMax != 0 {
		id.MaxExtLeaf = ext
	}
	if id.MaxExtLeaf >= LeafBrandLast {
		id.BrandName = p.brandName()
	}
	return id
}

// decodeSignature splits the leaf 1 EAX processor signature.  The extended
// family is added only for family 0xF and the extended model only for
// families 0x6 and 0xF.
func decodeSignature(eax uint32) (family, model, stepping int) {
	stepping = int(eax & 0xF)
	model = int((eax >> 4) & 0xF)
	family = int((eax >> 8) & 0xF)
	extModel := int((eax >> 16) & 0xF)
	extFamily := int((eax >> 20) & 0xFF)

	if family == 0xF {
		family += extFamily
	}
	if family == 0x6 || family >= 0xF {
		model += extModel << 4
	}
	return family, model, stepping
}

func (p *Prober) brandName() string {
	var b [48]byte
	for i, leaf := 0, LeafBrandFirst; leaf <= LeafBrandLast; i, leaf = i+16, leaf+1 {
		r := p.q.CPUID(leaf, 0)
		binary.LittleEndian.PutUint32(b[i:], r.EAX)
		binary.LittleEndian.PutUint32(b[i+4:], r.EBX)
		binary.LittleEndian.PutUint32(b[i+8:], r.ECX)
		binary.LittleEndian.PutUint32(b[i+12:], r.EDX)
	}
	return strings.TrimSpace(strings.TrimRight(string(b[:]), "\x00"))
}
