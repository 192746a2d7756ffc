//go:build amd64 || 386

package thunk

// CanExecute is true when the current architecture has a trampoline that
// can call into thunk code.
const CanExecute = true

// callThunk calls the machine code at fn with arg as its only argument,
// following the native calling convention of the platform, and returns
// the value left in the return register(s).
//
//go:noescape
func callThunk(fn, arg uintptr) uint64
