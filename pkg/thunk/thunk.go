// Package thunk places small, fixed sequences of machine instructions
// into executable memory and calls them through the native calling
// convention of the host.
//
// A Thunk goes through a strict lifecycle: SetInstructions selects the
// byte sequence for the running architecture, Allocate maps a read-write
// region and copies the bytes in, Protect turns the region read-execute
// and Release unmaps it. A region is never writable and executable at
// the same time.
package thunk

import (
	"errors"
	"unsafe"

	"github.com/go-delve/intrinsics/pkg/logflags"
)

// Is64Bit is true when pointers are 64 bits wide and the x64 variant of a
// thunk is used.
const Is64Bit = unsafe.Sizeof(uintptr(0)) == 8

var (
	// ErrNotExecutable is returned by Call when the thunk has not been
	// allocated and protected.
	ErrNotExecutable = errors.New("thunk is not mapped executable")
	// ErrNoTrampoline is returned by Call on architectures that can not
	// call into thunk code.
	ErrNoTrampoline = errors.New("no native trampoline for this architecture")
	// ErrNoInstructions is wrapped by the AllocationError returned when
	// Allocate is called before SetInstructions.
	ErrNoInstructions = errors.New("no instructions selected")
)

// Thunk owns one executable memory region holding a single function.
// A Thunk is not safe for concurrent use by multiple goroutines.
type Thunk struct {
	provider     Provider
	instructions []byte
	mem          []byte
	prot         Protection
	log          logflags.Logger
}

// New returns an empty Thunk backed by provider. If provider is nil the
// default provider of the operating system is used.
func New(provider Provider) *Thunk {
	if provider == nil {
		provider = DefaultProvider()
	}
	return &Thunk{provider: provider, log: logflags.ThunkLogger()}
}

// SetInstructions selects x86 or x64 depending on the pointer width of
// the running process. Nothing happens when forCurrentMachine is false.
func (t *Thunk) SetInstructions(x86, x64 []byte, forCurrentMachine bool) {
	if !forCurrentMachine {
		return
	}
	if Is64Bit {
		t.instructions = x64
	} else {
		t.instructions = x86
	}
}

// Instructions returns the selected byte sequence.
func (t *Thunk) Instructions() []byte {
	return t.instructions
}

// Address returns the address of the mapped region, or 0.
func (t *Thunk) Address() uintptr {
	if t.mem == nil {
		return 0
	}
	return uintptr(unsafe.Pointer(&t.mem[0]))
}

// Protection returns the current protection of the region.
func (t *Thunk) Protection() Protection {
	return t.prot
}

// Allocate maps a read-write region large enough for the selected
// instructions and copies them in. A previously mapped region is
// released first.
func (t *Thunk) Allocate() error {
	if len(t.instructions) == 0 {
		return &AllocationError{Size: 0, Err: ErrNoInstructions}
	}
	if err := t.Release(); err != nil {
		return err
	}
	mem, err := t.provider.Allocate(len(t.instructions))
	if err != nil {
		return &AllocationError{Size: len(t.instructions), Err: err}
	}
	if len(mem) < len(t.instructions) {
		t.provider.Release(mem)
		return &AllocationError{Size: len(t.instructions), Err: errors.New("short mapping")}
	}
	t.mem = mem
	t.prot = ProtReadWrite
	copy(t.mem, t.instructions)
	t.log.Debugf("allocated %d bytes at %#x", len(t.mem), t.Address())
	return nil
}

// Protect makes the region read-execute. On failure the region stays
// mapped read-write so that the caller can retry or release it.
func (t *Thunk) Protect() error {
	if t.mem == nil {
		return &ProtectionError{Prot: ProtReadExec, Err: ErrNotExecutable}
	}
	if err := t.provider.Protect(t.mem); err != nil {
		return &ProtectionError{Addr: t.Address(), Prot: ProtReadExec, Err: err}
	}
	t.prot = ProtReadExec
	t.log.Debugf("protected %#x %v", t.Address(), t.prot)
	return nil
}

// Compile selects the instructions for the running architecture, maps
// them and makes them executable.
func (t *Thunk) Compile(x86, x64 []byte) error {
	t.SetInstructions(x86, x64, true)
	if err := t.Allocate(); err != nil {
		return err
	}
	return t.Protect()
}

// Release unmaps the region. Calling Release on a thunk that is not
// mapped does nothing.
func (t *Thunk) Release() error {
	if t.mem == nil {
		return nil
	}
	addr := t.Address()
	err := t.provider.Release(t.mem)
	t.mem = nil
	t.prot = ProtNone
	if err != nil {
		t.log.Errorf("could not release %#x: %v", addr, err)
		return err
	}
	t.log.Debugf("released %#x", addr)
	return nil
}

// Call runs the thunk with arg as its only argument and returns its
// result. arg may be nil. On 32-bit systems the result is assembled from
// EDX:EAX.
func (t *Thunk) Call(arg unsafe.Pointer) (uint64, error) {
	if !CanExecute {
		return 0, ErrNoTrampoline
	}
	if t.mem == nil || !t.prot.Executable() {
		return 0, ErrNotExecutable
	}
	return callThunk(t.Address(), uintptr(arg)), nil
}
