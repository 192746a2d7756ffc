package thunk

import (
	"bytes"
	"errors"
	"syscall"
	"testing"
	"unsafe"
)

type fakeRegion struct {
	mem  []byte
	prot Protection
}

// fakeProvider hands out heap memory and records the protection of every
// region.
type fakeProvider struct {
	regions    map[*byte]*fakeRegion
	allocErr   error
	protectErr error
	releases   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{regions: make(map[*byte]*fakeRegion)}
}

func (p *fakeProvider) PageSize() int { return 4096 }

func (p *fakeProvider) Allocate(size int) ([]byte, error) {
	if p.allocErr != nil {
		return nil, p.allocErr
	}
	mem := make([]byte, roundToPage(size, p.PageSize()))
	p.regions[&mem[0]] = &fakeRegion{mem: mem, prot: ProtReadWrite}
	return mem, nil
}

func (p *fakeProvider) Protect(mem []byte) error {
	if p.protectErr != nil {
		return p.protectErr
	}
	p.regions[&mem[0]].prot = ProtReadExec
	return nil
}

func (p *fakeProvider) Release(mem []byte) error {
	delete(p.regions, &mem[0])
	p.releases++
	return nil
}

var (
	// mov eax, 42; ret
	retX86 = []byte{0xb8, 0x2a, 0x00, 0x00, 0x00, 0xc3}
	// mov rax, 42; ret
	retX64 = []byte{0x48, 0xc7, 0xc0, 0x2a, 0x00, 0x00, 0x00, 0xc3}
)

func TestLifecycle(t *testing.T) {
	p := newFakeProvider()
	th := New(p)
	if th.Address() != 0 || th.Protection() != ProtNone {
		t.Fatal("new thunk is mapped")
	}

	th.SetInstructions(retX86, retX64, false)
	if th.Instructions() != nil {
		t.Fatal("instructions selected for another machine")
	}
	th.SetInstructions(retX86, retX64, true)
	want := retX86
	if Is64Bit {
		want = retX64
	}
	if !bytes.Equal(th.Instructions(), want) {
		t.Fatalf("selected %x", th.Instructions())
	}

	if err := th.Allocate(); err != nil {
		t.Fatal(err)
	}
	if th.Address() == 0 || th.Protection() != ProtReadWrite {
		t.Fatalf("after Allocate: %#x %v", th.Address(), th.Protection())
	}
	if len(p.regions) != 1 {
		t.Fatalf("%d regions", len(p.regions))
	}
	for _, r := range p.regions {
		if len(r.mem) != 4096 || !bytes.Equal(r.mem[:len(want)], want) {
			t.Fatal("instructions not copied into the region")
		}
	}
	if _, err := th.Call(nil); CanExecute && !errors.Is(err, ErrNotExecutable) {
		t.Fatalf("call on writable region: %v", err)
	}

	if err := th.Protect(); err != nil {
		t.Fatal(err)
	}
	if th.Protection().Writable() || !th.Protection().Executable() {
		t.Fatalf("after Protect: %v", th.Protection())
	}
	for _, r := range p.regions {
		if r.prot.Writable() {
			t.Fatalf("region left writable: %v", r.prot)
		}
	}

	for i := 0; i < 3; i++ {
		if err := th.Release(); err != nil {
			t.Fatal(err)
		}
	}
	if p.releases != 1 || len(p.regions) != 0 {
		t.Fatalf("released %d times, %d regions left", p.releases, len(p.regions))
	}
	if th.Address() != 0 || th.Protection() != ProtNone {
		t.Fatal("released thunk still mapped")
	}
}

func TestReleaseUnallocated(t *testing.T) {
	p := newFakeProvider()
	if err := New(p).Release(); err != nil {
		t.Fatal(err)
	}
	if p.releases != 0 {
		t.Fatal("provider called for an unmapped thunk")
	}
}

func TestAllocationError(t *testing.T) {
	p := newFakeProvider()
	th := New(p)
	err := th.Allocate()
	var aerr *AllocationError
	if !errors.As(err, &aerr) || !errors.Is(err, ErrNoInstructions) {
		t.Fatalf("allocate without instructions: %v", err)
	}

	p.allocErr = syscall.ENOMEM
	th.SetInstructions(retX86, retX64, true)
	err = th.Allocate()
	if !errors.As(err, &aerr) || !errors.Is(err, syscall.ENOMEM) {
		t.Fatalf("got %v", err)
	}
	if aerr.Size != len(th.Instructions()) {
		t.Fatalf("size %d", aerr.Size)
	}
	if th.Address() != 0 {
		t.Fatal("failed allocation left an address")
	}
}

func TestProtectionError(t *testing.T) {
	p := newFakeProvider()
	p.protectErr = syscall.EACCES
	th := New(p)
	err := th.Compile(retX86, retX64)
	var perr *ProtectionError
	if !errors.As(err, &perr) || !errors.Is(err, syscall.EACCES) {
		t.Fatalf("got %v", err)
	}
	if perr.Prot != ProtReadExec || perr.Addr != th.Address() {
		t.Fatalf("error %+v", perr)
	}
	if th.Address() == 0 || len(p.regions) != 1 {
		t.Fatal("region released after a protection failure")
	}

	// the caller may retry
	p.protectErr = nil
	if err := th.Protect(); err != nil {
		t.Fatal(err)
	}
	if err := th.Release(); err != nil {
		t.Fatal(err)
	}
	if len(p.regions) != 0 {
		t.Fatal("region leaked")
	}
}

func TestReallocateReleasesPrevious(t *testing.T) {
	p := newFakeProvider()
	th := New(p)
	if err := th.Compile(retX86, retX64); err != nil {
		t.Fatal(err)
	}
	if err := th.Compile(retX86, retX64); err != nil {
		t.Fatal(err)
	}
	if len(p.regions) != 1 || p.releases != 1 {
		t.Fatalf("%d regions, %d releases", len(p.regions), p.releases)
	}
	th.Release()
}

func TestRoundToPage(t *testing.T) {
	tests := []struct{ size, page, want int }{
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
		{10, 0, 10},
	}
	for _, tt := range tests {
		if got := roundToPage(tt.size, tt.page); got != tt.want {
			t.Errorf("roundToPage(%d, %d) = %d", tt.size, tt.page, got)
		}
	}
}

func TestBorrow(t *testing.T) {
	buf := [4]uint32{1, 2, 3, 4}
	err := Borrow(&buf, func(p unsafe.Pointer) error {
		regs := (*[4]uint32)(p)
		if regs[2] != 3 {
			t.Errorf("borrowed %v", *regs)
		}
		regs[0] = 9
		return nil
	})
	if err != nil || buf[0] != 9 {
		t.Fatalf("Borrow: %v %v", buf, err)
	}

	errStop := errors.New("stop")
	if err := Borrow(&buf, func(unsafe.Pointer) error { return errStop }); err != errStop {
		t.Fatalf("error not returned: %v", err)
	}
}
