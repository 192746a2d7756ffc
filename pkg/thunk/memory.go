package thunk

import (
	"errors"
	"fmt"
)

// Protection describes the access rights of a thunk's memory region.
type Protection uint8

const (
	// ProtNone is the protection of a region that is not mapped.
	ProtNone Protection = iota
	// ProtReadWrite is used while instructions are copied in.
	ProtReadWrite
	// ProtReadExec is the final protection of a callable thunk.
	ProtReadExec
)

func (p Protection) String() string {
	switch p {
	case ProtNone:
		return "---"
	case ProtReadWrite:
		return "rw-"
	case ProtReadExec:
		return "r-x"
	default:
		return fmt.Sprintf("Protection(%d)", uint8(p))
	}
}

// Writable returns true if the protection allows writes.
func (p Protection) Writable() bool {
	return p == ProtReadWrite
}

// Executable returns true if code in the region may run.
func (p Protection) Executable() bool {
	return p == ProtReadExec
}

// Provider maps, protects and unmaps the memory that backs a thunk.
// Regions returned by Allocate are readable and writable, Protect makes
// them readable and executable. Implementations return the raw platform
// error, Thunk wraps it.
type Provider interface {
	Allocate(size int) ([]byte, error)
	Protect(mem []byte) error
	Release(mem []byte) error
	PageSize() int
}

// ErrUnsupportedPlatform is returned by the memory provider of operating
// systems that have no executable memory backend.
var ErrUnsupportedPlatform = errors.New("executable memory is not supported on this platform")

// AllocationError is returned when the operating system refuses to map
// memory for a thunk.
type AllocationError struct {
	Size int
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("could not allocate %d bytes of executable memory: %v", e.Size, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// ProtectionError is returned when a mapped region can not be made
// executable. The region is still mapped and must be released.
type ProtectionError struct {
	Addr uintptr
	Prot Protection
	Err  error
}

func (e *ProtectionError) Error() string {
	return fmt.Sprintf("could not change protection of %#x to %v: %v", e.Addr, e.Prot, e.Err)
}

func (e *ProtectionError) Unwrap() error { return e.Err }

func roundToPage(size, page int) int {
	if page <= 0 {
		return size
	}
	return (size + page - 1) &^ (page - 1)
}
