package gate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

// featureSet answers Has from a fixed set and counts lookups.
type featureSet struct {
	present map[cpufeatures.Feature]bool
	asked   map[cpufeatures.Feature]int
}

func newSet(fs ...cpufeatures.Feature) *featureSet {
	s := &featureSet{present: map[cpufeatures.Feature]bool{}, asked: map[cpufeatures.Feature]int{}}
	for _, f := range fs {
		s.present[f] = true
	}
	return s
}

func (s *featureSet) Has(f cpufeatures.Feature) bool {
	s.asked[f]++
	return s.present[f]
}

func byName(decisions []Decision) map[string]Decision {
	out := make(map[string]Decision, len(decisions))
	for _, d := range decisions {
		out[d.Workload.Name] = d
	}
	return out
}

func TestEvaluateDefaultCatalog(t *testing.T) {
	tests := []struct {
		name        string
		features    []cpufeatures.Feature
		wantEnabled []string
	}{
		{
			name:        "nothing",
			wantEnabled: nil,
		},
		{
			name:        "rdrand only",
			features:    []cpufeatures.Feature{cpufeatures.RDRAND},
			wantEnabled: []string{"rdrand"},
		},
		{
			name:        "clwb enables flush",
			features:    []cpufeatures.Feature{cpufeatures.CLWB},
			wantEnabled: []string{"cache-clwb", "cache-flush"},
		},
		{
			name:     "everything",
			features: cpufeatures.AllFeatures(),
			wantEnabled: []string{
				"tsc", "msr", "x86syscall", "rdrand", "rdseed",
				"cache-clflushopt", "cache-clwb", "cache-cldemote", "cache-flush",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSet(tt.features...)
			decisions := Evaluate(src, DefaultCatalog())
			assert.Equal(t, tt.wantEnabled, Enabled(decisions))
			for f, n := range src.asked {
				assert.Equal(t, 1, n, "%s asked more than once", f)
			}
		})
	}
}

func TestDecisionReasons(t *testing.T) {
	d := byName(Evaluate(newSet(cpufeatures.CLFLUSHOPT), DefaultCatalog()))

	assert.Equal(t, "missing RDRAND", d["rdrand"].Reason)
	assert.Equal(t, []cpufeatures.Feature{cpufeatures.RDRAND}, d["rdrand"].Missing)
	assert.Equal(t, "CLFLUSHOPT available", d["cache-flush"].Reason)
	assert.Equal(t, []cpufeatures.Feature{cpufeatures.CLWB}, d["cache-flush"].Missing)
	assert.Equal(t, "cache-flush: run (CLFLUSHOPT available)", d["cache-flush"].String())

	none := byName(Evaluate(newSet(), DefaultCatalog()))
	assert.Equal(t, "none of CLFLUSHOPT, CLWB available", none["cache-flush"].Reason)
}

func TestAllOfNeedsEveryFeature(t *testing.T) {
	w := Workload{Name: "entropy", Requires: []cpufeatures.Feature{cpufeatures.RDRAND, cpufeatures.RDSEED}}
	d := Evaluate(newSet(cpufeatures.RDRAND), []Workload{w})
	require.Len(t, d, 1)
	assert.False(t, d[0].Enabled)
	assert.Equal(t, "missing RDSEED", d[0].Reason)

	d = Evaluate(newSet(cpufeatures.RDRAND, cpufeatures.RDSEED), []Workload{w})
	assert.True(t, d[0].Enabled)
}

func TestNoRequirementsAlwaysRuns(t *testing.T) {
	d := Evaluate(newSet(), []Workload{{Name: "cpu"}})
	require.Len(t, d, 1)
	assert.True(t, d[0].Enabled)
}

func TestEvaluateWithProber(t *testing.T) {
	// A non-Intel prober must gate everything off.
	p := cpufeatures.NewProber(zeroQuerier{})
	assert.Empty(t, Enabled(Evaluate(p, DefaultCatalog())))
}

type zeroQuerier struct{}

func (zeroQuerier) CPUID(leaf, subleaf uint32) cpufeatures.Regs { return cpufeatures.Regs{} }

func TestFromConfig(t *testing.T) {
	ws, err := FromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), ws)

	ws, err = FromConfig([]config.WorkloadConfig{
		{Name: " flush ", Requires: []string{"clwb", "CLFLUSHOPT"}, AnyOf: true},
	})
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, "flush", ws[0].Name)
	assert.Equal(t, []cpufeatures.Feature{cpufeatures.CLWB, cpufeatures.CLFLUSHOPT}, ws[0].Requires)
	assert.True(t, ws[0].AnyOf)

	_, err = FromConfig([]config.WorkloadConfig{{Name: "x", Requires: []string{"sse9"}}})
	assert.ErrorIs(t, err, cpufeatures.ErrUnknownFeature)
}

func TestTable(t *testing.T) {
	out := Table(Evaluate(newSet(cpufeatures.TSC), DefaultCatalog()))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2+len(DefaultCatalog()))
	assert.Contains(t, out, "CLFLUSHOPT | CLWB")
	assert.Regexp(t, `tsc\s+run`, out)
	assert.Regexp(t, `rdrand\s+skip`, out)
}
