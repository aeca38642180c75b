package crosscheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

type fakeSource struct {
	name  string
	flags map[cpufeatures.Feature]bool
	err   error
}

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) Flags(ctx context.Context) (map[cpufeatures.Feature]bool, error) {
	return f.flags, f.err
}

func intelSnapshot(fs ...cpufeatures.Feature) *cpufeatures.Snapshot {
	s := &cpufeatures.Snapshot{IntelCompatible: true, Features: map[cpufeatures.Feature]bool{}}
	for _, f := range fs {
		s.Features[f] = true
	}
	return s
}

func TestCompare(t *testing.T) {
	snap := intelSnapshot(cpufeatures.TSC, cpufeatures.RDRAND)

	rep := Compare(context.Background(), snap,
		fakeSource{name: "agree", flags: map[cpufeatures.Feature]bool{cpufeatures.TSC: true, cpufeatures.CLWB: false}},
		fakeSource{name: "masked", flags: map[cpufeatures.Feature]bool{cpufeatures.RDRAND: false, cpufeatures.TSC: true}},
		fakeSource{name: "broken", err: errors.New("unavailable")},
	)

	assert.Equal(t, []string{"agree", "masked"}, rep.Checked)
	assert.Equal(t, map[string]string{"broken": "unavailable"}, rep.Skipped)
	require.Len(t, rep.Mismatches, 1)
	assert.Equal(t, Mismatch{Feature: cpufeatures.RDRAND, Source: "masked", CPUID: true, Other: false}, rep.Mismatches[0])
	assert.Equal(t, "RDRAND: cpuid=true masked=false", rep.Mismatches[0].String())
	assert.False(t, rep.OK())
}

func TestCompareSkipsNonIntel(t *testing.T) {
	snap := &cpufeatures.Snapshot{Features: map[cpufeatures.Feature]bool{}}
	rep := Compare(context.Background(), snap,
		fakeSource{name: "any", flags: map[cpufeatures.Feature]bool{cpufeatures.TSC: true}})
	assert.True(t, rep.OK())
	assert.Empty(t, rep.Checked)
	assert.Contains(t, rep.Skipped, "any")
}

func TestFlagsFromCPUInfo(t *testing.T) {
	flags := FlagsFromCPUInfo([]string{"fpu", "tsc", "msr", "clwb", "rdseed", "avx2"})
	assert.Len(t, flags, len(cpufeatures.AllFeatures()))
	assert.True(t, flags[cpufeatures.TSC])
	assert.True(t, flags[cpufeatures.MSR])
	assert.True(t, flags[cpufeatures.CLWB])
	assert.True(t, flags[cpufeatures.RDSEED])
	assert.False(t, flags[cpufeatures.CLFLUSHOPT])
	assert.False(t, flags[cpufeatures.SYSCALL])
}

func TestRunOnHost(t *testing.T) {
	snap := cpufeatures.Detect()
	rep := Run(context.Background(), snap)
	t.Logf("checked=%v skipped=%v mismatches=%v", rep.Checked, rep.Skipped, rep.Mismatches)
	assert.Equal(t, len(DefaultSources()), len(rep.Checked)+len(rep.Skipped))
}
