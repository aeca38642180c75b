//go:build linux

package topology

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

const pinningSupported = true

// AvailableCPUs returns the CPUs this process may run on.
func AvailableCPUs() []int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return sequentialCPUs()
	}
	var cpus []int
	for cpu := 0; cpu < len(set)*64 && len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	if len(cpus) == 0 {
		return sequentialCPUs()
	}
	return cpus
}

// pinToCPU locks the calling goroutine to its OS thread and restricts that
// thread to cpu.  The returned func restores the previous affinity.
func pinToCPU(cpu int) (func(), error) {
	runtime.LockOSThread()

	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("read affinity: %w", err)
	}

	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("pin to cpu %d: %w", cpu, err)
	}

	return func() {
		if err := unix.SchedSetaffinity(0, &prev); err != nil {
			// Leave the thread locked so the runtime retires it with the
			// goroutine instead of reusing a thread pinned to one CPU.
			log.Errorf("Failed to restore affinity after pinning to CPU %d: %v", cpu, err)
			return
		}
		runtime.UnlockOSThread()
	}, nil
}
