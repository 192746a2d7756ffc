package intrinsic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/derekparker/trie"
)

// Register names one of the four output registers of CPUID.
type Register uint8

const (
	EAX Register = iota
	EBX
	ECX
	EDX
)

func (r Register) String() string {
	switch r {
	case EAX:
		return "eax"
	case EBX:
		return "ebx"
	case ECX:
		return "ecx"
	case EDX:
		return "edx"
	}
	return fmt.Sprintf("Register(%d)", uint8(r))
}

// Registers is the output of one CPUID invocation.
type Registers struct {
	EAX, EBX, ECX, EDX uint32
}

// Get returns the value of register r.
func (r Registers) Get(reg Register) uint32 {
	switch reg {
	case EAX:
		return r.EAX
	case EBX:
		return r.EBX
	case ECX:
		return r.ECX
	default:
		return r.EDX
	}
}

// Bits extracts bits lo through hi, inclusive, of register reg.
func (r Registers) Bits(reg Register, lo, hi uint) uint32 {
	v := r.Get(reg) >> lo
	if w := hi - lo + 1; w < 32 {
		v &= 1<<w - 1
	}
	return v
}

// Feature is a processor capability reported by a CPUID bit.
type Feature uint16

// Features are named after the mnemonic used in the vendor manuals.
const (
	CPUID Feature = iota // the CPUID instruction itself

	// Leaf 1, EDX
	FPU
	VME
	DE
	PSE
	TSC
	MSR
	PAE
	MCE
	CX8
	APIC
	SEP
	MTRR
	PGE
	MCA
	CMOV
	PAT
	PSE36
	CLFSH
	MMX
	FXSR
	SSE
	SSE2
	HTT

	// Leaf 1, ECX
	SSE3
	PCLMULQDQ
	MONITOR
	SSSE3
	FMA
	CX16
	SSE41
	SSE42
	X2APIC
	MOVBE
	POPCNT
	AES
	XSAVE
	OSXSAVE
	AVX
	F16C
	RDRAND
	HYPERVISOR

	// Leaf 7, EBX
	FSGSBASE
	BMI1
	HLE
	AVX2
	SMEP
	BMI2
	ERMS
	INVPCID
	RTM
	AVX512F
	AVX512DQ
	RDSEED
	ADX
	SMAP
	AVX512IFMA
	CLFLUSHOPT
	CLWB
	AVX512PF
	AVX512ER
	AVX512CD
	SHA
	AVX512BW
	AVX512VL

	// Leaf 7, ECX
	AVX512VBMI
	UMIP
	PKU
	OSPKE
	WAITPKG
	AVX512VBMI2
	GFNI
	VAES
	VPCLMULQDQ
	AVX512VNNI
	AVX512BITALG
	AVX512VPOPCNTDQ
	RDPID
	MOVDIRI
	MOVDIR64B

	// Leaf 7, EDX
	FSRM
	SERIALIZE
	HYBRID
	AMXBF16
	AMXTILE
	AMXINT8

	// Leaf 0x80000001, ECX
	LAHF
	CMPLEGACY
	SVM
	LZCNT
	SSE4A
	PREFETCHW
	XOP
	FMA4
	TBM

	// Leaf 0x80000001, EDX
	SYSCALL
	NX
	MMXEXT
	FFXSR
	PDPE1GB
	RDTSCP
	LM
	AMD3DNOWEXT
	AMD3DNOW

	// Leaf 0x80000007, EDX
	INVARIANTTSC

	featureCount
)

type featureBit struct {
	name string
	leaf uint32
	sub  uint32
	reg  Register
	bit  uint8
}

var featureTable = [featureCount]featureBit{
	CPUID: {name: "cpuid"},

	FPU:   {"fpu", 1, 0, EDX, 0},
	VME:   {"vme", 1, 0, EDX, 1},
	DE:    {"de", 1, 0, EDX, 2},
	PSE:   {"pse", 1, 0, EDX, 3},
	TSC:   {"tsc", 1, 0, EDX, 4},
	MSR:   {"msr", 1, 0, EDX, 5},
	PAE:   {"pae", 1, 0, EDX, 6},
	MCE:   {"mce", 1, 0, EDX, 7},
	CX8:   {"cx8", 1, 0, EDX, 8},
	APIC:  {"apic", 1, 0, EDX, 9},
	SEP:   {"sep", 1, 0, EDX, 11},
	MTRR:  {"mtrr", 1, 0, EDX, 12},
	PGE:   {"pge", 1, 0, EDX, 13},
	MCA:   {"mca", 1, 0, EDX, 14},
	CMOV:  {"cmov", 1, 0, EDX, 15},
	PAT:   {"pat", 1, 0, EDX, 16},
	PSE36: {"pse36", 1, 0, EDX, 17},
	CLFSH: {"clfsh", 1, 0, EDX, 19},
	MMX:   {"mmx", 1, 0, EDX, 23},
	FXSR:  {"fxsr", 1, 0, EDX, 24},
	SSE:   {"sse", 1, 0, EDX, 25},
	SSE2:  {"sse2", 1, 0, EDX, 26},
	HTT:   {"htt", 1, 0, EDX, 28},

	SSE3:       {"sse3", 1, 0, ECX, 0},
	PCLMULQDQ:  {"pclmulqdq", 1, 0, ECX, 1},
	MONITOR:    {"monitor", 1, 0, ECX, 3},
	SSSE3:      {"ssse3", 1, 0, ECX, 9},
	FMA:        {"fma", 1, 0, ECX, 12},
	CX16:       {"cx16", 1, 0, ECX, 13},
	SSE41:      {"sse41", 1, 0, ECX, 19},
	SSE42:      {"sse42", 1, 0, ECX, 20},
	X2APIC:     {"x2apic", 1, 0, ECX, 21},
	MOVBE:      {"movbe", 1, 0, ECX, 22},
	POPCNT:     {"popcnt", 1, 0, ECX, 23},
	AES:        {"aes", 1, 0, ECX, 25},
	XSAVE:      {"xsave", 1, 0, ECX, 26},
	OSXSAVE:    {"osxsave", 1, 0, ECX, 27},
	AVX:        {"avx", 1, 0, ECX, 28},
	F16C:       {"f16c", 1, 0, ECX, 29},
	RDRAND:     {"rdrand", 1, 0, ECX, 30},
	HYPERVISOR: {"hypervisor", 1, 0, ECX, 31},

	FSGSBASE:   {"fsgsbase", 7, 0, EBX, 0},
	BMI1:       {"bmi1", 7, 0, EBX, 3},
	HLE:        {"hle", 7, 0, EBX, 4},
	AVX2:       {"avx2", 7, 0, EBX, 5},
	SMEP:       {"smep", 7, 0, EBX, 7},
	BMI2:       {"bmi2", 7, 0, EBX, 8},
	ERMS:       {"erms", 7, 0, EBX, 9},
	INVPCID:    {"invpcid", 7, 0, EBX, 10},
	RTM:        {"rtm", 7, 0, EBX, 11},
	AVX512F:    {"avx512f", 7, 0, EBX, 16},
	AVX512DQ:   {"avx512dq", 7, 0, EBX, 17},
	RDSEED:     {"rdseed", 7, 0, EBX, 18},
	ADX:        {"adx", 7, 0, EBX, 19},
	SMAP:       {"smap", 7, 0, EBX, 20},
	AVX512IFMA: {"avx512ifma", 7, 0, EBX, 21},
	CLFLUSHOPT: {"clflushopt", 7, 0, EBX, 23},
	CLWB:       {"clwb", 7, 0, EBX, 24},
	AVX512PF:   {"avx512pf", 7, 0, EBX, 26},
	AVX512ER:   {"avx512er", 7, 0, EBX, 27},
	AVX512CD:   {"avx512cd", 7, 0, EBX, 28},
	SHA:        {"sha", 7, 0, EBX, 29},
	AVX512BW:   {"avx512bw", 7, 0, EBX, 30},
	AVX512VL:   {"avx512vl", 7, 0, EBX, 31},

	AVX512VBMI:      {"avx512vbmi", 7, 0, ECX, 1},
	UMIP:            {"umip", 7, 0, ECX, 2},
	PKU:             {"pku", 7, 0, ECX, 3},
	OSPKE:           {"ospke", 7, 0, ECX, 4},
	WAITPKG:         {"waitpkg", 7, 0, ECX, 5},
	AVX512VBMI2:     {"avx512vbmi2", 7, 0, ECX, 6},
	GFNI:            {"gfni", 7, 0, ECX, 8},
	VAES:            {"vaes", 7, 0, ECX, 9},
	VPCLMULQDQ:      {"vpclmulqdq", 7, 0, ECX, 10},
	AVX512VNNI:      {"avx512vnni", 7, 0, ECX, 11},
	AVX512BITALG:    {"avx512bitalg", 7, 0, ECX, 12},
	AVX512VPOPCNTDQ: {"avx512vpopcntdq", 7, 0, ECX, 14},
	RDPID:           {"rdpid", 7, 0, ECX, 22},
	MOVDIRI:         {"movdiri", 7, 0, ECX, 27},
	MOVDIR64B:       {"movdir64b", 7, 0, ECX, 28},

	FSRM:      {"fsrm", 7, 0, EDX, 4},
	SERIALIZE: {"serialize", 7, 0, EDX, 14},
	HYBRID:    {"hybrid", 7, 0, EDX, 15},
	AMXBF16:   {"amxbf16", 7, 0, EDX, 22},
	AMXTILE:   {"amxtile", 7, 0, EDX, 24},
	AMXINT8:   {"amxint8", 7, 0, EDX, 25},

	LAHF:      {"lahf", 0x80000001, 0, ECX, 0},
	CMPLEGACY: {"cmplegacy", 0x80000001, 0, ECX, 1},
	SVM:       {"svm", 0x80000001, 0, ECX, 2},
	LZCNT:     {"lzcnt", 0x80000001, 0, ECX, 5},
	SSE4A:     {"sse4a", 0x80000001, 0, ECX, 6},
	PREFETCHW: {"prefetchw", 0x80000001, 0, ECX, 8},
	XOP:       {"xop", 0x80000001, 0, ECX, 11},
	FMA4:      {"fma4", 0x80000001, 0, ECX, 16},
	TBM:       {"tbm", 0x80000001, 0, ECX, 21},

	SYSCALL:     {"syscall", 0x80000001, 0, EDX, 11},
	NX:          {"nx", 0x80000001, 0, EDX, 20},
	MMXEXT:      {"mmxext", 0x80000001, 0, EDX, 22},
	FFXSR:       {"ffxsr", 0x80000001, 0, EDX, 25},
	PDPE1GB:     {"pdpe1gb", 0x80000001, 0, EDX, 26},
	RDTSCP:      {"rdtscp", 0x80000001, 0, EDX, 27},
	LM:          {"lm", 0x80000001, 0, EDX, 29},
	AMD3DNOWEXT: {"3dnowext", 0x80000001, 0, EDX, 30},
	AMD3DNOW:    {"3dnow", 0x80000001, 0, EDX, 31},

	INVARIANTTSC: {"invarianttsc", 0x80000007, 0, EDX, 8},
}

func (f Feature) String() string {
	if f >= featureCount {
		return fmt.Sprintf("Feature(%d)", uint16(f))
	}
	return featureTable[f].name
}

// Location returns the CPUID leaf, sub-leaf, register and bit that report
// f. CPUID itself has no location and ok is false for it.
func (f Feature) Location() (leaf, subLeaf uint32, reg Register, bit uint8, ok bool) {
	if f == CPUID || f >= featureCount {
		return 0, 0, 0, 0, false
	}
	fb := featureTable[f]
	return fb.leaf, fb.sub, fb.reg, fb.bit, true
}

// AllFeatures returns every known feature in declaration order.
func AllFeatures() []Feature {
	r := make([]Feature, 0, featureCount)
	for f := Feature(0); f < featureCount; f++ {
		r = append(r, f)
	}
	return r
}

var featureNames = func() *trie.Trie {
	t := trie.New()
	for f := Feature(0); f < featureCount; f++ {
		t.Add(featureTable[f].name, f)
	}
	return t
}()

// ParseFeature returns the feature called name, ignoring case.
func ParseFeature(name string) (Feature, error) {
	n, ok := featureNames.Find(strings.ToLower(name))
	if !ok {
		return 0, fmt.Errorf("unknown feature %q", name)
	}
	return n.Meta().(Feature), nil
}

// FeaturesWithPrefix returns the features whose name starts with prefix,
// sorted by name.
func FeaturesWithPrefix(prefix string) []Feature {
	names := featureNames.PrefixSearch(strings.ToLower(prefix))
	sort.Strings(names)
	r := make([]Feature, 0, len(names))
	for _, name := range names {
		if n, ok := featureNames.Find(name); ok {
			r = append(r, n.Meta().(Feature))
		}
	}
	return r
}
