//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || illumos

package thunk

import (
	"golang.org/x/sys/unix"
)

type mmapProvider struct{}

// DefaultProvider returns the memory provider of the current operating
// system.
func DefaultProvider() Provider {
	return mmapProvider{}
}

func (mmapProvider) PageSize() int {
	return unix.Getpagesize()
}

func (p mmapProvider) Allocate(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, roundToPage(size, p.PageSize()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (mmapProvider) Protect(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

func (mmapProvider) Release(mem []byte) error {
	return unix.Munmap(mem)
}
