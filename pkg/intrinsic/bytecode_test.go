package intrinsic

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/intrinsics/pkg/thunk"
)

func ops(t *testing.T, code []byte, bits int) []x86asm.Op {
	t.Helper()
	var r []x86asm.Op
	size := 0
	for _, inst := range thunk.Decode(code, bits) {
		if inst.Inst == nil {
			t.Fatalf("undecodable byte %#x at %#x", inst.Bytes, inst.Offset)
		}
		r = append(r, inst.Inst.Op)
		size += len(inst.Bytes)
	}
	if size != len(code) {
		t.Fatalf("decoded %d of %d bytes", size, len(code))
	}
	return r
}

func hasOp(list []x86asm.Op, op x86asm.Op) bool {
	for _, o := range list {
		if o == op {
			return true
		}
	}
	return false
}

func TestByteTables(t *testing.T) {
	tests := []struct {
		id  ID
		ops []x86asm.Op // at least one must be present
	}{
		{IDFeatureProbe, []x86asm.Op{x86asm.POPF, x86asm.POPFD, x86asm.POPFQ}},
		{IDCPUID, []x86asm.Op{x86asm.CPUID}},
		{IDRDTSC, []x86asm.Op{x86asm.RDTSC}},
		{IDRDTSCOrdered, []x86asm.Op{x86asm.LFENCE}},
		{IDRDTSCP, []x86asm.Op{x86asm.RDTSCP}},
		{IDRDTSCSerialized, []x86asm.Op{x86asm.CPUID}},
	}
	for _, tt := range tests {
		x86, x64, ok := Bytecode(tt.id)
		if !ok {
			t.Fatalf("%s: no code", tt.id)
		}
		for _, c := range []struct {
			code []byte
			bits int
		}{{x86, 32}, {x64, 64}} {
			list := ops(t, c.code, c.bits)
			if list[len(list)-1] != x86asm.RET {
				t.Errorf("%s/%d: does not end with RET: %v", tt.id, c.bits, list)
			}
			found := false
			for _, op := range tt.ops {
				found = found || hasOp(list, op)
			}
			if !found {
				t.Errorf("%s/%d: none of %v in %v", tt.id, c.bits, tt.ops, list)
			}
		}
	}
}

func TestCalleeSavedRegisters(t *testing.T) {
	// cpuid clobbers EBX, which every calling convention preserves
	for _, id := range []ID{IDCPUID, IDRDTSCSerialized} {
		x86, x64, _ := Bytecode(id)
		for _, c := range []struct {
			code []byte
			bits int
		}{{x86, 32}, {x64, 64}} {
			list := thunk.Decode(c.code, c.bits)
			first, last := list[0].Inst, list[len(list)-2].Inst
			if first.Op != x86asm.PUSH || last.Op != x86asm.POP {
				t.Fatalf("%s/%d: rbx not saved: %v ... %v", id, c.bits, first, last)
			}
			if first.Args[0] != last.Args[0] {
				t.Fatalf("%s/%d: pushed %v, popped %v", id, c.bits, first.Args[0], last.Args[0])
			}
		}
	}
}

func TestCodeUnknown(t *testing.T) {
	if _, _, ok := Bytecode("rdpmc"); ok {
		t.Fatal("unexpected code")
	}
}
