package ext4slack

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// probeBlockDevice asks the kernel for the size and sector sizes of an evidence device.
// The sector sizes are informational; only a failed size query is an error.
func probeBlockDevice(f *os.File) (deviceGeometry, error) {
	fd := f.Fd()
	var g deviceGeometry
	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		return g, os.NewSyscallError("ioctl: BLKGETSIZE64", errno)
	}
	g.size = int64(size)

	logical, err := unix.IoctlGetInt(int(fd), unix.BLKSSZGET)
	if err != nil {
		g.sectorErr = fmt.Errorf("BLKSSZGET: %w", err)
		return g, nil
	}
	physical, err := unix.IoctlGetInt(int(fd), unix.BLKPBSZGET)
	if err != nil {
		g.sectorErr = fmt.Errorf("BLKPBSZGET: %w", err)
		return g, nil
	}
	g.logicalSectorSize, g.physicalSectorSize = int64(logical), int64(physical)
	return g, nil
}
