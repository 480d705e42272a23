// Copyright 2017, Kerby Shedden and the Muscato contributors.

//go:build unix

package bitarray

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// NewMapped allocates a BitArray backed by an anonymous, private mmap
// region, warmed in parallel before being returned. This is preferred
// over a heap slice for large HashArray tables: anonymous mappings are
// zero-on-first-touch, and the parallel warm pass pays that cost up
// front instead of scattering page faults across the counting workers.
func NewMapped(bits, size, warmWorkers int) (*BitArray, error) {
	a, err := newArray(bits, size)
	if err != nil {
		return nil, err
	}
	nbytes := a.nwords() * 8
	if nbytes == 0 {
		a.data = nil
		return a, nil
	}
	mem, err := unix.Mmap(-1, 0, nbytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	a.mapped = mem
	a.data = unsafe.Slice((*uint64)(unsafe.Pointer(&mem[0])), a.nwords())
	a.Warm(warmWorkers)
	return a, nil
}

func closeMapped(a *BitArray) error {
	if a.mapped == nil {
		return nil
	}
	err := unix.Munmap(a.mapped)
	a.mapped = nil
	a.data = nil
	return err
}
