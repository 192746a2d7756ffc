package starbind

import (
	"testing"

	"go.starlark.net/starlark"

	"github.com/go-delve/intrinsics/pkg/intrinsic"
)

func TestSetArg(t *testing.T) {
	var leaf uint32 = 5
	if err := setArg(starlark.None, &leaf, "Leaf"); err != nil || leaf != 5 {
		t.Fatalf("None changed the argument: %d %v", leaf, err)
	}
	if err := setArg(starlark.MakeInt(7), &leaf, "Leaf"); err != nil || leaf != 7 {
		t.Fatalf("got %d %v", leaf, err)
	}

	tests := []struct {
		val starlark.Value
		dst interface{}
	}{
		{starlark.MakeUint64(1 << 32), new(uint32)},
		{starlark.MakeInt(-1), new(uint32)},
		{starlark.String("0x1"), new(uint32)},
		{starlark.MakeInt(1), new(string)},
		{starlark.String("yes"), new(bool)},
		{starlark.Float(1.5), new(int)},
		{starlark.MakeInt(1), new(float64)},
	}
	for _, tt := range tests {
		if err := setArg(tt.val, tt.dst, "x"); err == nil {
			t.Errorf("no error converting %s to %T", tt.val, tt.dst)
		}
	}

	var name string
	if err := setArg(starlark.String("avx2"), &name, "Feature"); err != nil || name != "avx2" {
		t.Fatalf("got %q %v", name, err)
	}
	var v uint64
	if err := setArg(starlark.MakeUint64(1<<63), &v, "Value"); err != nil || v != 1<<63 {
		t.Fatalf("got %#x %v", v, err)
	}
}

func TestRegistersAsStarlarkValue(t *testing.T) {
	v := toStarlarkValue(intrinsic.Registers{EAX: 1, EDX: 0xffffffff})
	s, ok := v.(starlark.HasAttrs)
	if !ok {
		t.Fatalf("registers converted to %T", v)
	}
	edx, err := s.Attr("EDX")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := edx.(starlark.Int).Uint64(); !ok || n != 0xffffffff {
		t.Fatalf("EDX = %v", edx)
	}
	if _, err := s.Attr("RAX"); err == nil {
		t.Fatal("expected error for missing field")
	}
	if names := s.AttrNames(); len(names) != 4 || names[0] != "EAX" {
		t.Fatalf("attributes %v", names)
	}
}

func TestToStarlarkValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, "None"},
		{true, "True"},
		{int64(-3), "-3"},
		{uint64(1 << 63), "9223372036854775808"},
		{intrinsic.Available, `"available"`},
		{[]uint32{1, 2}, "[1, 2]"},
		{(*intrinsic.Registers)(nil), "None"},
	}
	for _, tt := range tests {
		if got := toStarlarkValue(tt.in).String(); got != tt.want {
			t.Errorf("%#v: got %s, want %s", tt.in, got, tt.want)
		}
	}
}
