package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snapAt(at time.Time, fs ...cpufeatures.Feature) *cpufeatures.Snapshot {
	s := &cpufeatures.Snapshot{
		Arch: "amd64",
		Identity: cpufeatures.Identity{
			Vendor: "GenuineIntel", BrandName: "Test CPU",
			Family: 6, Model: 85, Stepping: 7, MaxLeaf: 0x16, MaxExtLeaf: 0x80000008,
		},
		IntelCompatible: true,
		Features:        map[cpufeatures.Feature]bool{},
		TakenAt:         at,
	}
	for _, f := range fs {
		s.Features[f] = true
	}
	return s
}

func TestRecordAndLatest(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first, err := s.RecordRun(ctx, "node1", snapAt(t0, cpufeatures.TSC, cpufeatures.CLFLUSHOPT))
	require.NoError(t, err)
	_, err = uuid.Parse(first.ID)
	require.NoError(t, err)

	second, err := s.RecordRun(ctx, "node1", snapAt(t0.Add(time.Hour), cpufeatures.TSC, cpufeatures.CLWB))
	require.NoError(t, err)
	_, err = s.RecordRun(ctx, "node2", snapAt(t0.Add(2*time.Hour)))
	require.NoError(t, err)

	runs, err := s.LatestRuns(ctx, "node1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
	assert.True(t, runs[0].TakenAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, first.Identity, runs[1].Identity)
	assert.True(t, runs[1].IntelCompatible)
	assert.Len(t, runs[0].Features, len(cpufeatures.AllFeatures()))
	assert.True(t, runs[0].Features[cpufeatures.CLWB])
	assert.False(t, runs[0].Features[cpufeatures.CLFLUSHOPT])

	changes := Changes(runs[1], runs[0])
	require.Len(t, changes, 2)
	assert.Equal(t, "CLFLUSHOPT disappeared", changes[0].String())
	assert.Equal(t, "CLWB appeared", changes[1].String())
}

func TestLatestRunsUnknownHost(t *testing.T) {
	s := openTemp(t)
	runs, err := s.LatestRuns(context.Background(), "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPrune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := s.RecordRun(ctx, "node1", snapAt(t0.Add(time.Duration(i)*time.Minute), cpufeatures.TSC))
		require.NoError(t, err)
	}

	n, err := s.Prune(ctx, "node1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	runs, err := s.LatestRuns(ctx, "node1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].TakenAt.Equal(t0.Add(4*time.Minute)))
	assert.True(t, runs[0].Features[cpufeatures.TSC])
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.RecordRun(context.Background(), "node1", snapAt(time.Now().UTC()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.LatestRuns(context.Background(), "node1", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestChangesNone(t *testing.T) {
	r := Run{Features: map[cpufeatures.Feature]bool{cpufeatures.TSC: true}}
	assert.Empty(t, Changes(r, r))
}

func TestOpenEnablesWAL(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	var mode string
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}
