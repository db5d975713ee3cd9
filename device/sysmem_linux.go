//go:build linux

package device

import "golang.org/x/sys/unix"

// totalSystemMemory reports total RAM; the simulated device presents
// host memory as device memory.
func totalSystemMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 16 << 30
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
