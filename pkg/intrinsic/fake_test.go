package intrinsic

import (
	"bytes"
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/go-delve/intrinsics/pkg/thunk"
)

// fakeCPU stands in for the processor: fakeCode dispatches calls to it
// based on the byte sequence that was compiled.
type fakeCPU struct {
	mu       sync.Mutex
	leaves   map[uint64]Registers
	draws    []fakeDraw
	tsc      uint64
	fault    map[ID]bool
	allocErr error
	calls    map[ID]int
	compiles map[ID]int
	releases map[ID]int
}

type fakeDraw struct {
	v  uint64
	ok bool
}

func le(s string) uint32 {
	return binary.LittleEndian.Uint32([]byte(s))
}

// newFakeIntel describes a six core, twelve thread Intel processor with
// TSC, SSE2, RDTSCP, RDRAND and RDSEED.
func newFakeIntel() *fakeCPU {
	f := &fakeCPU{
		leaves:   make(map[uint64]Registers),
		fault:    make(map[ID]bool),
		calls:    make(map[ID]int),
		compiles: make(map[ID]int),
		releases: make(map[ID]int),
	}
	f.set(0, 0, Registers{EAX: 0xd, EBX: le("Genu"), EDX: le("ineI"), ECX: le("ntel")})
	f.set(1, 0, Registers{
		EAX: 0x000906ea,
		EBX: 12<<16 | 8<<8,
		ECX: 1<<0 | 1<<30,
		EDX: 1<<4 | 1<<26 | 1<<28,
	})
	f.set(4, 0, Registers{EAX: 5 << 26})
	f.set(7, 0, Registers{EBX: 1<<5 | 1<<18})
	f.set(0xb, 0, Registers{EBX: 2})
	f.set(0xb, 1, Registers{EBX: 12})
	f.set(0x80000000, 0, Registers{EAX: 0x80000008})
	f.set(0x80000001, 0, Registers{EDX: 1 << 27})
	f.setBrand("Intel(R) Core(TM) i7-8700K CPU @ 3.70GHz")
	return f
}

// newFakeAMD describes an eight core, sixteen thread AMD processor
// without RDRAND, RDSEED or RDTSCP.
func newFakeAMD() *fakeCPU {
	f := newFakeIntel()
	f.leaves = make(map[uint64]Registers)
	f.set(0, 0, Registers{EAX: 0x10, EBX: le("Auth"), EDX: le("enti"), ECX: le("cAMD")})
	f.set(1, 0, Registers{
		EAX: 0x00870f10,
		EBX: 16<<16 | 8<<8,
		EDX: 1<<4 | 1<<26 | 1<<28,
	})
	f.set(0x80000000, 0, Registers{EAX: 0x8000001f})
	f.set(0x80000008, 0, Registers{ECX: 15})
	f.set(0x8000001e, 0, Registers{EBX: 1 << 8})
	f.setBrand("AMD Ryzen 7 3700X 8-Core Processor")
	return f
}

func (f *fakeCPU) set(leaf, subLeaf uint32, regs Registers) {
	f.leaves[leafKey(leaf, subLeaf)] = regs
}

func (f *fakeCPU) update(leaf, subLeaf uint32, fn func(*Registers)) {
	regs := f.leaves[leafKey(leaf, subLeaf)]
	fn(&regs)
	f.set(leaf, subLeaf, regs)
}

func (f *fakeCPU) setBrand(s string) {
	b := make([]byte, 48)
	copy(b, s)
	for i := 0; i < 3; i++ {
		w := b[16*i:]
		f.set(0x80000002+uint32(i), 0, Registers{
			EAX: binary.LittleEndian.Uint32(w[0:]),
			EBX: binary.LittleEndian.Uint32(w[4:]),
			ECX: binary.LittleEndian.Uint32(w[8:]),
			EDX: binary.LittleEndian.Uint32(w[12:]),
		})
	}
}

func (f *fakeCPU) callCount(id ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeCPU) config(reg *Registry) Config {
	return Config{
		Registry: reg,
		NewCode:  func() Code { return &fakeCode{cpu: f} },
		Clock:    func() int64 { return 42 },
	}
}

func idOf(x64 []byte) ID {
	for _, id := range IDs {
		if _, code, _ := Bytecode(id); bytes.Equal(code, x64) {
			return id
		}
	}
	return ""
}

type fakeCode struct {
	cpu      *fakeCPU
	id       ID
	compiled bool
}

func (c *fakeCode) Compile(x86, x64 []byte) error {
	f := c.cpu
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocErr != nil {
		return &thunk.AllocationError{Size: len(x64), Err: f.allocErr}
	}
	c.id = idOf(x64)
	c.compiled = true
	f.compiles[c.id]++
	return nil
}

func (c *fakeCode) Release() error {
	if c.compiled {
		c.cpu.mu.Lock()
		c.cpu.releases[c.id]++
		c.cpu.mu.Unlock()
	}
	c.compiled = false
	return nil
}

func (c *fakeCode) Call(arg unsafe.Pointer) (uint64, error) {
	if !c.compiled {
		return 0, thunk.ErrNotExecutable
	}
	f := c.cpu
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[c.id]++
	if f.fault[c.id] {
		return 0, &ProbeFaultError{ID: c.id, Reason: "illegal instruction"}
	}
	switch c.id {
	case IDFeatureProbe:
		return 1, nil
	case IDCPUID:
		buf := (*[4]uint32)(arg)
		r := f.leaves[leafKey(buf[0], buf[2])]
		buf[0], buf[1], buf[2], buf[3] = r.EAX, r.EBX, r.ECX, r.EDX
		return 0, nil
	case IDRDRAND, IDRDSEED:
		if len(f.draws) == 0 {
			return 0, nil
		}
		d := f.draws[0]
		f.draws = f.draws[1:]
		*(*uint64)(arg) = d.v
		if d.ok {
			return 1, nil
		}
		return 0, nil
	}
	f.tsc += 100
	return f.tsc, nil
}
