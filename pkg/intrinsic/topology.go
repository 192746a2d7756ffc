package intrinsic

import (
	"encoding/binary"
	"strings"
)

// Vendor is the manufacturer of the processor as reported by CPUID leaf 0.
type Vendor uint8

const (
	VendorUnknown Vendor = iota
	VendorIntel
	VendorAMD
	VendorHygon
	VendorVIA
	VendorZhaoxin
)

var vendorNames = map[string]Vendor{
	"GenuineIntel": VendorIntel,
	"AuthenticAMD": VendorAMD,
	"AMDisbetter!": VendorAMD,
	"HygonGenuine": VendorHygon,
	"CentaurHauls": VendorVIA,
	"VIA VIA VIA ": VendorVIA,
	"  Shanghai  ": VendorZhaoxin,
}

func (v Vendor) String() string {
	switch v {
	case VendorIntel:
		return "Intel"
	case VendorAMD:
		return "AMD"
	case VendorHygon:
		return "Hygon"
	case VendorVIA:
		return "VIA"
	case VendorZhaoxin:
		return "Zhaoxin"
	}
	return "unknown"
}

func registerString(regs ...uint32) string {
	b := make([]byte, 4*len(regs))
	for i, r := range regs {
		binary.LittleEndian.PutUint32(b[4*i:], r)
	}
	return string(b)
}

// VendorString returns the twelve character vendor identification, for
// example "GenuineIntel". It is read once per CpuId.
func (c *CpuId) VendorString() string {
	c.vendorOnce.Do(func() {
		regs := c.leaf(0, 0)
		if regs == (Registers{}) {
			return
		}
		c.vendor = registerString(regs.EBX, regs.EDX, regs.ECX)
	})
	return c.vendor
}

// Vendor classifies VendorString.
func (c *CpuId) Vendor() Vendor {
	return vendorNames[c.VendorString()]
}

// ProcessorBrandString returns the brand string stored in the extended
// leaves 0x80000002 to 0x80000004, or "" if the processor has none. It is
// read once per CpuId.
func (c *CpuId) ProcessorBrandString() string {
	c.brandOnce.Do(func() {
		if c.MaxExtendedLeaf() < 0x80000004 {
			return
		}
		regs := make([]uint32, 0, 12)
		for leaf := uint32(0x80000002); leaf <= 0x80000004; leaf++ {
			r := c.leaf(leaf, 0)
			regs = append(regs, r.EAX, r.EBX, r.ECX, r.EDX)
		}
		c.brand = strings.TrimSpace(strings.TrimRight(registerString(regs...), "\x00"))
	})
	return c.brand
}

// FamilyModelStepping decodes the processor signature in leaf 1. Extended
// family and model are folded in as described in the vendor manuals.
func (c *CpuId) FamilyModelStepping() (family, model, stepping int) {
	if c.MaxLeaf() < 1 {
		return 0, 0, 0
	}
	eax := c.leaf(1, 0).EAX
	stepping = int(eax & 0xf)
	model = int((eax >> 4) & 0xf)
	family = int((eax >> 8) & 0xf)
	if family == 0xf {
		family += int((eax >> 20) & 0xff)
	}
	if family == 0x6 || family >= 0xf {
		model += int((eax>>16)&0xf) << 4
	}
	return family, model, stepping
}

// addressableIDs returns CPUID.1:EBX[23:16] if the processor reports
// multiple logical processors per package, otherwise 1.
func (c *CpuId) addressableIDs() int {
	regs := c.leaf(1, 0)
	if regs.EDX&(1<<28) == 0 {
		return 1
	}
	if n := int(regs.Bits(EBX, 16, 23)); n > 0 {
		return n
	}
	return 1
}

// LogicalCores returns the number of logical processors in the package,
// or 0 if it can not be determined.
func (c *CpuId) LogicalCores() int {
	top := c.MaxLeaf()
	if top < 1 {
		return 0
	}
	switch c.Vendor() {
	case VendorIntel:
		if top >= 0xb {
			if n := int(c.leaf(0xb, 1).Bits(EBX, 0, 15)); n > 0 {
				return n
			}
		}
		return c.addressableIDs()
	case VendorAMD, VendorHygon:
		if c.MaxExtendedLeaf() >= 0x80000008 {
			return int(c.leaf(0x80000008, 0).Bits(ECX, 0, 7)) + 1
		}
		return c.addressableIDs()
	}
	return 0
}

// ThreadsPerCore returns the number of hardware threads sharing one core.
// It is 1 when the processor does not report it.
func (c *CpuId) ThreadsPerCore() int {
	top := c.MaxLeaf()
	switch c.Vendor() {
	case VendorIntel:
		if top >= 0xb {
			if n := int(c.leaf(0xb, 0).Bits(EBX, 0, 15)); n > 0 {
				return n
			}
		}
		if top >= 4 {
			logical := c.addressableIDs()
			cores := int(c.leaf(4, 0).Bits(EAX, 26, 31)) + 1
			if logical > cores {
				return logical / cores
			}
		}
	case VendorAMD, VendorHygon:
		if c.MaxExtendedLeaf() >= 0x8000001e && c.Supports(HTT) {
			return int(c.leaf(0x8000001e, 0).Bits(EBX, 8, 15)) + 1
		}
	}
	return 1
}

// PhysicalCores returns the number of cores in the package, or 0 if it
// can not be determined.
func (c *CpuId) PhysicalCores() int {
	switch c.Vendor() {
	case VendorIntel, VendorAMD, VendorHygon:
		return c.LogicalCores() / c.ThreadsPerCore()
	}
	return 0
}

// CacheLineSize returns the CLFLUSH line size in bytes, falling back to
// the L2 line size of extended leaf 0x80000006.
func (c *CpuId) CacheLineSize() int {
	if c.MaxLeaf() < 1 {
		return 0
	}
	if n := int(c.leaf(1, 0).Bits(EBX, 8, 15)) * 8; n > 0 {
		return n
	}
	if c.MaxExtendedLeaf() >= 0x80000006 {
		return int(c.leaf(0x80000006, 0).Bits(ECX, 0, 7))
	}
	return 0
}

// Topology summarizes the identification and core counts of the
// processor.
type Topology struct {
	VendorID       string
	Vendor         string
	Brand          string
	Family         int
	Model          int
	Stepping       int
	LogicalCores   int
	PhysicalCores  int
	ThreadsPerCore int
	CacheLineSize  int
}

// Topology collects the values of VendorString, Vendor, ProcessorBrandString,
// FamilyModelStepping, LogicalCores, PhysicalCores, ThreadsPerCore and
// CacheLineSize.
func (c *CpuId) Topology() Topology {
	family, model, stepping := c.FamilyModelStepping()
	return Topology{
		VendorID:       c.VendorString(),
		Vendor:         c.Vendor().String(),
		Brand:          c.ProcessorBrandString(),
		Family:         family,
		Model:          model,
		Stepping:       stepping,
		LogicalCores:   c.LogicalCores(),
		PhysicalCores:  c.PhysicalCores(),
		ThreadsPerCore: c.ThreadsPerCore(),
		CacheLineSize:  c.CacheLineSize(),
	}
}
