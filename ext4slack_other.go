//go:build !linux

package ext4slack

import (
	"errors"
	"io"
	"os"
)

// probeBlockDevice measures the device by seeking to its end
func probeBlockDevice(f *os.File) (deviceGeometry, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return deviceGeometry{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return deviceGeometry{}, err
	}
	return deviceGeometry{size: size, sectorErr: errors.New("sector sizes are not available on this platform")}, nil
}
