//go:build !linux

package topology

const pinningSupported = false

// AvailableCPUs returns 0..NumCPU-1; affinity is not queried off Linux.
func AvailableCPUs() []int {
	return sequentialCPUs()
}

func pinToCPU(cpu int) (func(), error) {
	return func() {}, nil
}
