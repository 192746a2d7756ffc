//go:build amd64 || 386

package intrinsic

import (
	"errors"
	"testing"

	"golang.org/x/sys/cpu"

	"github.com/go-delve/intrinsics/pkg/thunk"
)

// newHardware runs the real thunks. Systems that refuse executable
// mappings skip the test.
func newHardware(t *testing.T) *Intrinsics {
	t.Helper()
	in, err := New(Config{Registry: NewRegistry()})
	if err != nil {
		var aerr *thunk.AllocationError
		var perr *thunk.ProtectionError
		if errors.As(err, &aerr) || errors.As(err, &perr) {
			t.Skipf("executable memory not available: %v", err)
		}
		t.Fatal(err)
	}
	t.Cleanup(func() { in.Close() })
	return in
}

func TestHardwareCPUID(t *testing.T) {
	in := newHardware(t)
	if !in.Supports(CPUID) {
		t.Fatal("cpuid not available")
	}
	if v := in.CPU.VendorString(); len(v) != 12 {
		t.Fatalf("vendor %q", v)
	}
	t.Logf("%s %q", in.CPU.VendorString(), in.CPU.ProcessorBrandString())
	family, model, stepping := in.CPU.FamilyModelStepping()
	t.Logf("family %d model %d stepping %d, %d logical, %d physical, %d threads per core",
		family, model, stepping, in.CPU.LogicalCores(), in.CPU.PhysicalCores(), in.CPU.ThreadsPerCore())

	checks := []struct {
		f    Feature
		want bool
	}{
		{SSE2, cpu.X86.HasSSE2},
		{SSE3, cpu.X86.HasSSE3},
		{SSSE3, cpu.X86.HasSSSE3},
		{SSE41, cpu.X86.HasSSE41},
		{SSE42, cpu.X86.HasSSE42},
		{POPCNT, cpu.X86.HasPOPCNT},
		{AES, cpu.X86.HasAES},
		{PCLMULQDQ, cpu.X86.HasPCLMULQDQ},
		{RDRAND, cpu.X86.HasRDRAND},
		{RDSEED, cpu.X86.HasRDSEED},
		{BMI1, cpu.X86.HasBMI1},
		{BMI2, cpu.X86.HasBMI2},
		{ADX, cpu.X86.HasADX},
		{ERMS, cpu.X86.HasERMS},
	}
	for _, c := range checks {
		if got := in.Supports(c.f); got != c.want {
			t.Errorf("%v: got %v, golang.org/x/sys/cpu says %v", c.f, got, c.want)
		}
	}
}

func TestHardwareTimestamp(t *testing.T) {
	in := newHardware(t)
	if !in.CPU.IsTSCSupported() {
		t.Skip("no timestamp counter")
	}
	if !in.TSC.Hardware() {
		t.Fatalf("%v not available", in.TSC.Variant())
	}
	a := in.Timestamp()
	b := in.Timestamp()
	if b < a {
		t.Fatalf("timestamp went backwards: %d %d", a, b)
	}
}

func TestHardwareRandom(t *testing.T) {
	in := newHardware(t)
	if in.Rand.Hardware() != in.Supports(RDRAND) {
		t.Fatalf("rdrand state %v, feature %v", in.Rand.State(), in.Supports(RDRAND))
	}
	if !in.Rand.Hardware() {
		t.Skip("no rdrand")
	}
	seen := map[uint64]bool{}
	for i := 0; i < 8; i++ {
		v, err := in.Rand.Uint64()
		if err != nil {
			t.Fatal(err)
		}
		seen[v] = true
	}
	if len(seen) < 7 {
		t.Fatalf("rdrand returned repeated values: %v", seen)
	}
}
