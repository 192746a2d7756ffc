package thunk

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// VirtualAlloc hands out regions at allocation granularity, protection
// changes apply to whole pages.
const windowsPageSize = 4096

type virtualProvider struct{}

// DefaultProvider returns the memory provider of the current operating
// system.
func DefaultProvider() Provider {
	return virtualProvider{}
}

func (virtualProvider) PageSize() int {
	return windowsPageSize
}

func (p virtualProvider) Allocate(size int) ([]byte, error) {
	n := roundToPage(size, p.PageSize())
	addr, err := windows.VirtualAlloc(0, uintptr(n), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	if addr == 0 {
		return nil, windows.ERROR_NOT_ENOUGH_MEMORY
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n), nil
}

func (virtualProvider) Protect(mem []byte) error {
	var old uint32
	return windows.VirtualProtect(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)), windows.PAGE_EXECUTE_READ, &old)
}

func (virtualProvider) Release(mem []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&mem[0])), 0, windows.MEM_RELEASE)
}
