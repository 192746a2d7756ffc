package intrinsic

import (
	"fmt"
	"strings"

	"github.com/go-delve/intrinsics/pkg/logflags"
)

// TSCVariant is the instruction sequence used to read the timestamp
// counter.
type TSCVariant uint8

const (
	// TSCAuto picks RDTSCP if available, then LFENCE+RDTSC, then RDTSC.
	TSCAuto TSCVariant = iota
	// TSCPlain is a bare RDTSC, which may execute out of order.
	TSCPlain
	// TSCOrdered waits for earlier instructions with LFENCE.
	TSCOrdered
	// TSCRDTSCP uses RDTSCP.
	TSCRDTSCP
	// TSCSerialized executes CPUID before RDTSC.
	TSCSerialized
)

func (v TSCVariant) String() string {
	switch v {
	case TSCAuto:
		return "auto"
	case TSCPlain:
		return "rdtsc"
	case TSCOrdered:
		return "lfence"
	case TSCRDTSCP:
		return "rdtscp"
	case TSCSerialized:
		return "cpuid"
	}
	return fmt.Sprintf("TSCVariant(%d)", uint8(v))
}

// ParseTSCVariant is the inverse of TSCVariant.String.
func ParseTSCVariant(s string) (TSCVariant, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return TSCAuto, nil
	case "rdtsc", "plain":
		return TSCPlain, nil
	case "lfence", "ordered":
		return TSCOrdered, nil
	case "rdtscp":
		return TSCRDTSCP, nil
	case "cpuid", "serialized":
		return TSCSerialized, nil
	}
	return TSCAuto, fmt.Errorf("unknown timestamp counter variant %q", s)
}

// ID returns the registry identity of the variant. TSCAuto has none.
func (v TSCVariant) ID() ID {
	switch v {
	case TSCPlain:
		return IDRDTSC
	case TSCOrdered:
		return IDRDTSCOrdered
	case TSCRDTSCP:
		return IDRDTSCP
	case TSCSerialized:
		return IDRDTSCSerialized
	}
	return ""
}

// missing returns the feature the variant needs and the processor lacks.
func (v TSCVariant) missing(cpu *CpuId) (Feature, bool) {
	need := []Feature{CPUID, TSC}
	switch v {
	case TSCOrdered:
		need = append(need, SSE2)
	case TSCRDTSCP:
		need = append(need, RDTSCP)
	}
	for _, f := range need {
		if !cpu.Supports(f) {
			return f, true
		}
	}
	return 0, false
}

func selectTSCVariant(cpu *CpuId) TSCVariant {
	switch {
	case cpu.Supports(RDTSCP):
		return TSCRDTSCP
	case cpu.Supports(SSE2):
		return TSCOrdered
	}
	return TSCPlain
}

// Rdtsc reads the timestamp counter. Without one it reports the
// nanoseconds elapsed on the monotonic clock of Config.
type Rdtsc struct {
	base
	cpu     *CpuId
	variant TSCVariant
	read    func() int64
}

// NewRdtsc returns an Rdtsc using cfg.TSCVariant. cpu decides which
// variants the processor supports, if it is nil a temporary CpuId is
// created.
func NewRdtsc(cpu *CpuId, cfg Config) (*Rdtsc, error) {
	if cpu == nil {
		tmp, err := NewCpuId(Config{Registry: cfg.Registry, Memory: cfg.Memory, NewCode: cfg.NewCode})
		if err != nil {
			return nil, err
		}
		defer tmp.Dispose()
		cpu = tmp
	}
	variant := cfg.TSCVariant
	if variant == TSCAuto {
		variant = selectTSCVariant(cpu)
	}
	t := &Rdtsc{
		base:    newBase(variant.ID(), cfg, logflags.TSCLogger()),
		cpu:     cpu,
		variant: variant,
	}
	t.read = t.hardware
	err := t.Compile(true)
	t.cpu = nil
	if err != nil {
		t.Dispose()
		return nil, err
	}
	return t, nil
}

// Compile implements the state machine of the intrinsic.
func (t *Rdtsc) Compile(forMachine bool) error {
	x86, x64, _ := Bytecode(t.id)
	return t.compile(forMachine, x86, x64, t.probe, t.useFallback)
}

func (t *Rdtsc) probe() error {
	if f, ok := t.variant.missing(t.cpu); ok {
		return &ProbeFaultError{ID: t.id, Reason: fmt.Sprintf("%v is not supported", f)}
	}
	_, err := t.call(nil)
	return err
}

func (t *Rdtsc) useFallback() {
	t.log.Infof("using the monotonic clock")
	t.read = t.cfg.Clock
}

func (t *Rdtsc) hardware() int64 {
	return int64(t.mustCall(nil))
}

// Timestamp returns the current value of the timestamp counter.
func (t *Rdtsc) Timestamp() int64 {
	return t.read()
}

// Variant returns the instruction sequence in use.
func (t *Rdtsc) Variant() TSCVariant {
	return t.variant
}
