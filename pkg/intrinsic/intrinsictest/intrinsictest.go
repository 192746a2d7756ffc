// Package intrinsictest provides a simulated processor for testing code
// built on package intrinsic without executing machine code.
package intrinsictest

import (
	"bytes"
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/go-delve/intrinsics/pkg/intrinsic"
	"github.com/go-delve/intrinsics/pkg/thunk"
)

// CPU answers the calls made by the intrinsics it configures: CPUID
// leaves come from a table, RDRAND and RDSEED return an increasing
// sequence and the timestamp counter advances by 100 on every read.
type CPU struct {
	mu       sync.Mutex
	leaves   map[uint64]intrinsic.Registers
	random   uint64
	tsc      uint64
	failures int
	fault    map[intrinsic.ID]bool
	calls    map[intrinsic.ID]int
}

func le(s string) uint32 {
	return binary.LittleEndian.Uint32([]byte(s))
}

func key(leaf, subLeaf uint32) uint64 {
	return uint64(leaf)<<32 | uint64(subLeaf)
}

func newCPU() *CPU {
	return &CPU{
		leaves: make(map[uint64]intrinsic.Registers),
		fault:  make(map[intrinsic.ID]bool),
		calls:  make(map[intrinsic.ID]int),
	}
}

// NewIntel returns a six core, twelve thread "GenuineIntel" processor
// with TSC, SSE2, SSE3, RDTSCP, RDRAND, RDSEED and AVX2.
func NewIntel() *CPU {
	c := newCPU()
	c.Set(0, 0, intrinsic.Registers{EAX: 0xd, EBX: le("Genu"), EDX: le("ineI"), ECX: le("ntel")})
	c.Set(1, 0, intrinsic.Registers{
		EAX: 0x000906ea,
		EBX: 12<<16 | 8<<8,
		ECX: 1<<0 | 1<<30,
		EDX: 1<<4 | 1<<26 | 1<<28,
	})
	c.Set(4, 0, intrinsic.Registers{EAX: 5 << 26})
	c.Set(7, 0, intrinsic.Registers{EBX: 1<<5 | 1<<18})
	c.Set(0xb, 0, intrinsic.Registers{EBX: 2})
	c.Set(0xb, 1, intrinsic.Registers{EBX: 12})
	c.Set(0x80000000, 0, intrinsic.Registers{EAX: 0x80000008})
	c.Set(0x80000001, 0, intrinsic.Registers{EDX: 1 << 27})
	c.SetBrand("Intel(R) Core(TM) i7-8700K CPU @ 3.70GHz")
	return c
}

// NewAMD returns an eight core, sixteen thread "AuthenticAMD" processor
// with TSC and SSE2 but without RDTSCP, RDRAND or RDSEED.
func NewAMD() *CPU {
	c := newCPU()
	c.Set(0, 0, intrinsic.Registers{EAX: 0x10, EBX: le("Auth"), EDX: le("enti"), ECX: le("cAMD")})
	c.Set(1, 0, intrinsic.Registers{
		EAX: 0x00870f10,
		EBX: 16<<16 | 8<<8,
		EDX: 1<<4 | 1<<26 | 1<<28,
	})
	c.Set(0x80000000, 0, intrinsic.Registers{EAX: 0x8000001f})
	c.Set(0x80000008, 0, intrinsic.Registers{ECX: 15})
	c.Set(0x8000001e, 0, intrinsic.Registers{EBX: 1 << 8})
	c.SetBrand("AMD Ryzen 7 3700X 8-Core Processor")
	return c
}

// Set replaces the registers returned for leaf and subLeaf.
func (c *CPU) Set(leaf, subLeaf uint32, regs intrinsic.Registers) {
	c.mu.Lock()
	c.leaves[key(leaf, subLeaf)] = regs
	c.mu.Unlock()
}

// SetBrand stores s in the brand string leaves 0x80000002-0x80000004.
func (c *CPU) SetBrand(s string) {
	b := make([]byte, 48)
	copy(b, s)
	for i := 0; i < 3; i++ {
		w := b[16*i:]
		c.Set(0x80000002+uint32(i), 0, intrinsic.Registers{
			EAX: binary.LittleEndian.Uint32(w[0:]),
			EBX: binary.LittleEndian.Uint32(w[4:]),
			ECX: binary.LittleEndian.Uint32(w[8:]),
			EDX: binary.LittleEndian.Uint32(w[12:]),
		})
	}
}

// Fault makes every call to the code of id report an illegal instruction.
func (c *CPU) Fault(id intrinsic.ID) {
	c.mu.Lock()
	c.fault[id] = true
	c.mu.Unlock()
}

// FailDraws makes the next n RDRAND or RDSEED attempts return no value.
func (c *CPU) FailDraws(n int) {
	c.mu.Lock()
	c.failures = n
	c.mu.Unlock()
}

// Calls returns the number of times the code of id was called.
func (c *CPU) Calls(id intrinsic.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

// Config returns an intrinsic.Config that runs on c, records states in
// reg and whose fallback clock always returns 42.
func (c *CPU) Config(reg *intrinsic.Registry) intrinsic.Config {
	return intrinsic.Config{
		Registry: reg,
		NewCode:  func() intrinsic.Code { return &code{cpu: c} },
		Clock:    func() int64 { return 42 },
	}
}

// New constructs every intrinsic on c with a private registry.
func (c *CPU) New() (*intrinsic.Intrinsics, *intrinsic.Registry, error) {
	reg := intrinsic.NewRegistry()
	in, err := intrinsic.New(c.Config(reg))
	return in, reg, err
}

type code struct {
	cpu *CPU
	id  intrinsic.ID
	ok  bool
}

func identify(x64 []byte) intrinsic.ID {
	for _, id := range intrinsic.IDs {
		if _, b, _ := intrinsic.Bytecode(id); bytes.Equal(b, x64) {
			return id
		}
	}
	return ""
}

func (p *code) Compile(x86, x64 []byte) error {
	p.id = identify(x64)
	p.ok = true
	return nil
}

func (p *code) Release() error {
	p.ok = false
	return nil
}

func (p *code) Call(arg unsafe.Pointer) (uint64, error) {
	if !p.ok {
		return 0, thunk.ErrNotExecutable
	}
	c := p.cpu
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[p.id]++
	if c.fault[p.id] {
		return 0, &intrinsic.ProbeFaultError{ID: p.id, Reason: "illegal instruction"}
	}
	switch p.id {
	case intrinsic.IDFeatureProbe:
		return 1, nil
	case intrinsic.IDCPUID:
		buf := (*[4]uint32)(arg)
		r := c.leaves[key(buf[0], buf[2])]
		buf[0], buf[1], buf[2], buf[3] = r.EAX, r.EBX, r.ECX, r.EDX
		return 0, nil
	case intrinsic.IDRDRAND, intrinsic.IDRDSEED:
		if c.failures > 0 {
			c.failures--
			return 0, nil
		}
		c.random++
		*(*uint64)(arg) = c.random
		return 1, nil
	}
	c.tsc += 100
	return c.tsc, nil
}
