//go:build !(amd64 || 386)

package thunk

// CanExecute is true when the current architecture has a trampoline that
// can call into thunk code.
const CanExecute = false

func callThunk(fn, arg uintptr) uint64 {
	panic("thunk: no trampoline for this architecture")
}
