// Package topology probes every logical CPU separately.  On heterogeneous
// or virtualized systems cores may disagree about their features, and a
// thread migrated mid-probe would otherwise report a mix of both.
package topology

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
	"git.uuxo.net/uuxo/cpuprobe/internal/workers"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// CPUResult is the probe of one logical CPU.
type CPUResult struct {
	CPU      int                   `json:"cpu"`
	Pinned   bool                  `json:"pinned"`
	Snapshot *cpufeatures.Snapshot `json:"snapshot,omitempty"`
	Err      error                 `json:"-"`
}

func sequentialCPUs() []int {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

// ProbeAll probes each CPU in cpus (AvailableCPUs when nil) on a pool of
// numWorkers goroutines, pinning each probe to its CPU where supported.
// Results are returned in the order of cpus.
func ProbeAll(ctx context.Context, p *cpufeatures.Prober, cpus []int, numWorkers int) ([]CPUResult, error) {
	if p == nil {
		p = cpufeatures.Default()
	}
	if cpus == nil {
		cpus = AvailableCPUs()
	}
	if numWorkers <= 0 || numWorkers > len(cpus) {
		numWorkers = len(cpus)
	}

	results := make([]CPUResult, len(cpus))
	pool := workers.NewPool(numWorkers, len(cpus))
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	for i, cpu := range cpus {
		i, cpu := i, cpu
		wg.Add(1)
		err := pool.Submit(ctx, workers.Task{
			Name: fmt.Sprintf("probe-cpu%d", cpu),
			Execute: func() error {
				defer wg.Done()
				results[i] = probeOne(p, cpu)
				return results[i].Err
			},
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit probe for cpu %d: %w", cpu, err)
		}
	}
	wg.Wait()

	log.Debugf("Probed %d CPUs with %d workers", len(cpus), numWorkers)
	return results, nil
}

func probeOne(p *cpufeatures.Prober, cpu int) CPUResult {
	res := CPUResult{CPU: cpu}
	restore, err := pinToCPU(cpu)
	if err != nil {
		res.Err = err
		return res
	}
	defer restore()

	res.Pinned = pinningSupported
	res.Snapshot = p.Detect()
	return res
}

// Heterogeneous returns the features that differ between probed CPUs.
func Heterogeneous(results []CPUResult) []cpufeatures.Feature {
	var diff []cpufeatures.Feature
	for _, f := range cpufeatures.AllFeatures() {
		seen := map[bool]bool{}
		for _, r := range results {
			if r.Snapshot != nil {
				seen[r.Snapshot.Has(f)] = true
			}
		}
		if len(seen) > 1 {
			diff = append(diff, f)
		}
	}
	return diff
}

// Common returns the features every successfully probed CPU reports.
// A workload gated on Common is safe wherever the scheduler places it.
func Common(results []CPUResult) map[cpufeatures.Feature]bool {
	common := make(map[cpufeatures.Feature]bool)
	probed := 0
	for _, r := range results {
		if r.Snapshot == nil {
			continue
		}
		probed++
		for _, f := range cpufeatures.AllFeatures() {
			if probed == 1 {
				common[f] = r.Snapshot.Has(f)
			} else {
				common[f] = common[f] && r.Snapshot.Has(f)
			}
		}
	}
	return common
}

// CommonSource adapts Common to a FeatureSource.
type CommonSource map[cpufeatures.Feature]bool

// Has implements cpufeatures.FeatureSource.
func (c CommonSource) Has(f cpufeatures.Feature) bool {
	return c[f]
}
