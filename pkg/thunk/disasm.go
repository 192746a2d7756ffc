package thunk

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// AssemblyFlavour selects the syntax used by Disassemble.
type AssemblyFlavour int

const (
	IntelFlavour AssemblyFlavour = iota
	GNUFlavour
	GoFlavour
)

// ParseFlavour converts "intel", "gnu" or "go" into an AssemblyFlavour.
func ParseFlavour(s string) (AssemblyFlavour, error) {
	switch strings.ToLower(s) {
	case "", "intel":
		return IntelFlavour, nil
	case "gnu", "att":
		return GNUFlavour, nil
	case "go":
		return GoFlavour, nil
	}
	return IntelFlavour, fmt.Errorf("unknown assembly flavour %q", s)
}

// Instruction is one decoded instruction of a thunk.
type Instruction struct {
	Offset int
	Bytes  []byte
	Inst   *x86asm.Inst // nil if the bytes could not be decoded
}

// Text returns the instruction in the requested syntax.
func (i Instruction) Text(flavour AssemblyFlavour) string {
	if i.Inst == nil {
		return "?"
	}
	pc := uint64(i.Offset)
	switch flavour {
	case GNUFlavour:
		return x86asm.GNUSyntax(*i.Inst, pc, nil)
	case GoFlavour:
		return x86asm.GoSyntax(*i.Inst, pc, nil)
	default:
		return x86asm.IntelSyntax(*i.Inst, pc, nil)
	}
}

// Decode splits code into instructions. bits is 32 or 64. Bytes that do
// not decode are reported as one-byte instructions with a nil Inst.
func Decode(code []byte, bits int) []Instruction {
	var r []Instruction
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], bits)
		// older decoders accept a truncated opcode and return Op 0
		if err != nil || inst.Op == 0 || inst.Len == 0 || off+inst.Len > len(code) {
			r = append(r, Instruction{Offset: off, Bytes: code[off : off+1]})
			off++
			continue
		}
		r = append(r, Instruction{Offset: off, Bytes: code[off : off+inst.Len], Inst: &inst})
		off += inst.Len
	}
	return r
}

// Disassemble writes a listing of code to w.
func Disassemble(w io.Writer, code []byte, bits int, flavour AssemblyFlavour) error {
	for _, inst := range Decode(code, bits) {
		var hex strings.Builder
		for _, b := range inst.Bytes {
			fmt.Fprintf(&hex, "%02x", b)
		}
		if _, err := fmt.Fprintf(w, "%#04x\t%-20s\t%s\n", inst.Offset, hex.String(), inst.Text(flavour)); err != nil {
			return err
		}
	}
	return nil
}
