//go:build linux

package hw

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MapBAR maps a PCI BAR resource file (e.g.
// /sys/bus/pci/devices/<bdf>/resource0) and returns a register window
// over it. The caller owns the mapping and must Unmap it on shutdown.
//
// PCI enumeration itself is the bus layer's job; this only consumes the
// resource path it hands us.
func MapBAR(path string, size int) (*Registers, func() error, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	base, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	regs, err := NewRegisters(base)
	if err != nil {
		unix.Munmap(base)
		unix.Close(fd)
		return nil, nil, err
	}

	unmap := func() error {
		merr := unix.Munmap(base)
		cerr := unix.Close(fd)
		if merr != nil {
			return merr
		}
		return cerr
	}
	return regs, unmap, nil
}
