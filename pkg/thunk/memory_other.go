//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || illumos || windows)

package thunk

type unsupportedProvider struct{}

// DefaultProvider returns the memory provider of the current operating
// system.
func DefaultProvider() Provider {
	return unsupportedProvider{}
}

func (unsupportedProvider) PageSize() int { return 4096 }

func (unsupportedProvider) Allocate(size int) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

func (unsupportedProvider) Protect(mem []byte) error {
	return ErrUnsupportedPlatform
}

func (unsupportedProvider) Release(mem []byte) error {
	return ErrUnsupportedPlatform
}
