package intrinsic

import (
	"testing"
)

func TestRdtscVariantSelection(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeCPU)
		want   TSCVariant
		wantID ID
	}{
		{"rdtscp", func(*fakeCPU) {}, TSCRDTSCP, IDRDTSCP},
		{"lfence", func(f *fakeCPU) {
			f.update(0x80000001, 0, func(r *Registers) { r.EDX &^= 1 << 27 })
		}, TSCOrdered, IDRDTSCOrdered},
		{"plain", func(f *fakeCPU) {
			f.update(0x80000001, 0, func(r *Registers) { r.EDX &^= 1 << 27 })
			f.update(1, 0, func(r *Registers) { r.EDX &^= 1 << 26 })
		}, TSCPlain, IDRDTSC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cpu := newFakeIntel()
			tt.setup(cpu)
			tsc, err := NewRdtsc(nil, cpu.config(NewRegistry()))
			if err != nil {
				t.Fatal(err)
			}
			defer tsc.Dispose()
			if tsc.Variant() != tt.want || tsc.ID() != tt.wantID {
				t.Fatalf("got %v (%s)", tsc.Variant(), tsc.ID())
			}
			if !tsc.Hardware() {
				t.Fatal("timestamp counter should be available")
			}
			a, b := tsc.Timestamp(), tsc.Timestamp()
			if b <= a {
				t.Fatalf("timestamps not increasing: %d %d", a, b)
			}
		})
	}
}

func TestRdtscFallback(t *testing.T) {
	cpu := newFakeIntel()
	cpu.update(1, 0, func(r *Registers) { r.EDX &^= 1 << 4 })
	cfg := cpu.config(NewRegistry())
	cfg.TSCVariant = TSCSerialized
	tsc, err := NewRdtsc(nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer tsc.Dispose()
	if tsc.Hardware() {
		t.Fatal("timestamp counter without TSC")
	}
	if v := tsc.Timestamp(); v != 42 {
		t.Fatalf("fallback returned %d", v)
	}
	if n := cpu.callCount(IDRDTSCSerialized); n != 0 {
		t.Fatalf("rdtsc executed %d times", n)
	}
}

func TestRdtscDefaultClock(t *testing.T) {
	cfg := Config{}.withDefaults()
	a := cfg.Clock()
	b := cfg.Clock()
	if a < 0 || b < a {
		t.Fatalf("monotonic clock went backwards: %d %d", a, b)
	}
}

func TestParseTSCVariant(t *testing.T) {
	for _, v := range []TSCVariant{TSCAuto, TSCPlain, TSCOrdered, TSCRDTSCP, TSCSerialized} {
		got, err := ParseTSCVariant(v.String())
		if err != nil || got != v {
			t.Fatalf("ParseTSCVariant(%q) = %v, %v", v, got, err)
		}
	}
	if _, err := ParseTSCVariant("hpet"); err == nil {
		t.Fatal("expected error")
	}
}
