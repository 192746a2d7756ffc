package thunk

import (
	"runtime"
	"unsafe"
)

// Borrow pins v for the duration of fn and passes its address to it.
// The address stays an unsafe.Pointer until Thunk.Call hands it to the
// trampoline, and must not be retained after fn returns: once Borrow returns the
// garbage collector is free to reclaim or move the value again.
func Borrow[T any](v *T, fn func(p unsafe.Pointer) error) error {
	var pinner runtime.Pinner
	pinner.Pin(v)
	defer pinner.Unpin()
	err := fn(unsafe.Pointer(v))
	runtime.KeepAlive(v)
	return err
}
