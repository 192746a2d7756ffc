package intrinsictest

import (
	"testing"

	"github.com/go-delve/intrinsics/pkg/intrinsic"
)

func TestIntel(t *testing.T) {
	in, reg, err := NewIntel().New()
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	if v := in.CPU.VendorString(); v != "GenuineIntel" {
		t.Fatalf("vendor %q", v)
	}
	for _, f := range []intrinsic.Feature{intrinsic.TSC, intrinsic.SSE2, intrinsic.RDTSCP, intrinsic.RDRAND, intrinsic.RDSEED, intrinsic.AVX2} {
		if !in.Supports(f) {
			t.Errorf("%v not supported", f)
		}
	}
	if s, _ := reg.State(intrinsic.IDRDRAND); s != intrinsic.Available {
		t.Fatalf("rdrand %v", s)
	}
	a, b := in.Timestamp(), in.Timestamp()
	if b-a != 100 {
		t.Fatalf("timestamps %d %d", a, b)
	}
}

func TestAMD(t *testing.T) {
	in, _, err := NewAMD().New()
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	if in.CPU.Vendor() != intrinsic.VendorAMD {
		t.Fatalf("vendor %v", in.CPU.Vendor())
	}
	if in.Rand.Hardware() || in.Seed.Hardware() {
		t.Fatal("random number generators available")
	}
	if in.TSC.Variant() != intrinsic.TSCOrdered {
		t.Fatalf("variant %v", in.TSC.Variant())
	}
}

func TestFault(t *testing.T) {
	cpu := NewIntel()
	cpu.Fault(intrinsic.IDRDRAND)
	in, reg, err := cpu.New()
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	if s, _ := reg.State(intrinsic.IDRDRAND); s != intrinsic.NotAvailable {
		t.Fatalf("rdrand %v", s)
	}
	if cpu.Calls(intrinsic.IDRDRAND) != 1 {
		t.Fatalf("rdrand called %d times", cpu.Calls(intrinsic.IDRDRAND))
	}
	if in.Rand.Hardware() {
		t.Fatal("faulting rdrand in use")
	}
}
