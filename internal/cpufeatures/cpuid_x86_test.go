//go:build (386 || amd64) && gc && !purego

package cpufeatures

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/cpu"
)

func TestHardwareVendor(t *testing.T) {
	require.True(t, HardwareAvailable())

	leaf0 := CPUID(LeafVendor, 0)
	assert.NotZero(t, leaf0.EAX, "max standard leaf")

	vendor := VendorID(leaf0)
	t.Logf("Vendor: %s", vendor)
	assert.Equal(t, vendor == "GenuineIntel", IsX86Compatible())
}

func TestHardwareAgreesWithSysCPU(t *testing.T) {
	if !IsX86Compatible() {
		for _, f := range AllFeatures() {
			assert.False(t, Has(f), f.String())
		}
		t.Skip("not a GenuineIntel CPU")
	}

	assert.Equal(t, cpu.X86.HasRDRAND, HasRDRAND())
	assert.True(t, HasTSC(), "every Intel CPU able to run Go has a TSC")

	s := Detect()
	t.Logf("Summary:  %s", s.Summary())
	t.Logf("Identity: %+v", s.Identity)
	assert.Equal(t, "GenuineIntel", s.Identity.Vendor)
	for _, f := range AllFeatures() {
		assert.Equal(t, Has(f), s.Has(f), f.String())
	}
}

func TestHardwareQuerierBacksDefaultProber(t *testing.T) {
	assert.Equal(t, CPUID(LeafVendor, 0), Hardware().CPUID(LeafVendor, 0))
	assert.Equal(t, Default().IsX86Compatible(), NewProber(nil).IsX86Compatible())
	for _, f := range AllFeatures() {
		assert.Equal(t, Default().Has(f), NewProber(nil).Has(f), f.String())
	}
}
