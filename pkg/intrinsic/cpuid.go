package intrinsic

import (
	"errors"
	"sort"
	"sync"
	"unsafe"

	"github.com/go-delve/intrinsics/pkg/logflags"
	"github.com/go-delve/intrinsics/pkg/thunk"
)

// CpuId executes the CPUID instruction. Results are kept per instance,
// keyed by leaf and sub-leaf, for the lifetime of the instance.
//
// When CPUID is not available every leaf reads as zero, so every feature
// is reported as unsupported.
type CpuId struct {
	base
	exec func(leaf, subLeaf uint32) (Registers, error)

	leafMu sync.RWMutex
	leaves map[uint64]Registers
	missMu sync.Mutex

	mu        sync.Mutex
	supported map[Feature]struct{}

	vendorOnce sync.Once
	vendor     string
	brandOnce  sync.Once
	brand      string
}

// NewCpuId returns a CpuId, probing CPUID if the registry has no record
// of it. With cfg.Strict set a processor without CPUID is an
// *UnsupportedOperationError.
func NewCpuId(cfg Config) (*CpuId, error) {
	c := &CpuId{
		base:      newBase(IDCPUID, cfg, logflags.CPUIDLogger()),
		leaves:    make(map[uint64]Registers),
		supported: make(map[Feature]struct{}),
	}
	c.exec = c.invoke
	if err := c.Compile(true); err != nil {
		c.Dispose()
		return nil, err
	}
	return c, nil
}

// Compile implements the state machine of the intrinsic.
func (c *CpuId) Compile(forMachine bool) error {
	return c.compile(forMachine, cpuidX86, cpuidX64, c.probeLeaf0, c.useFallback)
}

// probeLeaf0 reads leaf 0, which every processor implementing CPUID
// supports, and keeps the result.
func (c *CpuId) probeLeaf0() error {
	present, err := cpuidPresent(c.cfg)
	if err != nil {
		return err
	}
	if !present {
		return &ProbeFaultError{ID: c.id, Reason: "EFLAGS.ID is not writable"}
	}
	regs, err := c.invoke(0, 0)
	if err != nil {
		return err
	}
	c.store(leafKey(0, 0), regs)
	return nil
}

func (c *CpuId) useFallback() {
	c.leafMu.Lock()
	c.leaves = make(map[uint64]Registers)
	c.leafMu.Unlock()
	c.exec = func(leaf, subLeaf uint32) (Registers, error) {
		return Registers{}, nil
	}
}

func (c *CpuId) invoke(leaf, subLeaf uint32) (Registers, error) {
	buf := [4]uint32{leaf, 0, subLeaf, 0}
	err := thunk.Borrow(&buf, func(p unsafe.Pointer) error {
		_, err := c.call(p)
		return err
	})
	if err != nil {
		return Registers{}, err
	}
	return Registers{EAX: buf[0], EBX: buf[1], ECX: buf[2], EDX: buf[3]}, nil
}

func leafKey(leaf, subLeaf uint32) uint64 {
	return uint64(leaf)<<32 | uint64(subLeaf)
}

func (c *CpuId) lookup(key uint64) (Registers, bool) {
	c.leafMu.RLock()
	defer c.leafMu.RUnlock()
	regs, ok := c.leaves[key]
	return regs, ok
}

func (c *CpuId) store(key uint64, regs Registers) {
	c.leafMu.Lock()
	c.leaves[key] = regs
	c.leafMu.Unlock()
}

// Invoke executes CPUID with EAX set to leaf and ECX set to subLeaf.
// The result is not cached.
func (c *CpuId) Invoke(leaf, subLeaf uint32) (Registers, error) {
	return c.exec(leaf, subLeaf)
}

// RetrieveInformation is Invoke, but every (leaf, subLeaf) pair is only
// executed once.
func (c *CpuId) RetrieveInformation(leaf, subLeaf uint32) (Registers, error) {
	key := leafKey(leaf, subLeaf)
	if regs, ok := c.lookup(key); ok {
		return regs, nil
	}

	c.missMu.Lock()
	defer c.missMu.Unlock()
	if regs, ok := c.lookup(key); ok {
		return regs, nil
	}
	regs, err := c.exec(leaf, subLeaf)
	if err != nil {
		return Registers{}, err
	}
	c.store(key, regs)
	c.log.Debugf("leaf %#x.%d: eax=%#x ebx=%#x ecx=%#x edx=%#x", leaf, subLeaf, regs.EAX, regs.EBX, regs.ECX, regs.EDX)
	return regs, nil
}

// leaf is RetrieveInformation for queries that do not return errors.
// A fault of an available CPUID panics.
func (c *CpuId) leaf(leaf, subLeaf uint32) Registers {
	regs, err := c.RetrieveInformation(leaf, subLeaf)
	if err != nil {
		var sc *StateCorruptionError
		if errors.As(err, &sc) {
			panic(sc)
		}
		c.log.Errorf("leaf %#x.%d: %v", leaf, subLeaf, err)
		return Registers{}
	}
	return regs
}

// MaxLeaf returns the highest basic leaf implemented by the processor.
func (c *CpuId) MaxLeaf() uint32 {
	return c.leaf(0, 0).EAX
}

// MaxExtendedLeaf returns the highest extended leaf implemented by the
// processor, or 0 if there are none.
func (c *CpuId) MaxExtendedLeaf() uint32 {
	top := c.leaf(0x80000000, 0).EAX
	if top < 0x80000000 {
		return 0
	}
	return top
}

func (c *CpuId) hasLeaf(leaf uint32) bool {
	if leaf >= 0x80000000 {
		return leaf <= c.MaxExtendedLeaf()
	}
	return leaf <= c.MaxLeaf()
}

// Supports returns true if the processor reports feature f. Leaves above
// the maximum reported by the processor are not read and count as
// unsupported.
func (c *CpuId) Supports(f Feature) bool {
	var v bool
	if f == CPUID {
		v = c.Hardware()
	} else if leaf, subLeaf, reg, bit, ok := f.Location(); ok {
		v = c.hasLeaf(leaf) && c.leaf(leaf, subLeaf).Get(reg)&(1<<bit) != 0
	}

	c.mu.Lock()
	if v {
		c.supported[f] = struct{}{}
	} else {
		delete(c.supported, f)
	}
	c.mu.Unlock()
	return v
}

// SupportedFeatures evaluates every known feature and returns the
// supported ones in declaration order.
func (c *CpuId) SupportedFeatures() []Feature {
	for _, f := range AllFeatures() {
		c.Supports(f)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := make([]Feature, 0, len(c.supported))
	for f := range c.supported {
		r = append(r, f)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}

// IsTSCSupported returns true if the processor has a timestamp counter.
func (c *CpuId) IsTSCSupported() bool {
	return c.Supports(TSC)
}
