package intrinsic

import (
	"github.com/go-delve/intrinsics/pkg/logflags"
	"github.com/go-delve/intrinsics/pkg/thunk"
)

// FeatureProbe checks whether the processor implements CPUID by toggling
// the ID flag of EFLAGS. Every x86-64 processor implements CPUID, the
// probe only matters to 32-bit processes.
type FeatureProbe struct {
	base
}

// NewFeatureProbe compiles and, the first time in the process, runs the
// probe.
func NewFeatureProbe(cfg Config) (*FeatureProbe, error) {
	p := &FeatureProbe{base: newBase(IDFeatureProbe, cfg, logflags.CPUIDLogger())}
	if err := p.Compile(true); err != nil {
		p.Dispose()
		return nil, err
	}
	return p, nil
}

// Compile implements the state machine of the intrinsic.
func (p *FeatureProbe) Compile(forMachine bool) error {
	return p.compile(forMachine, featureProbeX86, featureProbeX64, p.run, func() {})
}

func (p *FeatureProbe) run() error {
	v, err := p.call(nil)
	if err != nil {
		return err
	}
	if v&1 == 0 {
		return &ProbeFaultError{ID: p.id, Reason: "EFLAGS.ID is not writable"}
	}
	return nil
}

// Supported returns true if CPUID can be executed.
func (p *FeatureProbe) Supported() bool {
	return p.Hardware()
}

// cpuidPresent reports whether CPUID can run, consulting the probe stub
// only in 32-bit processes.
func cpuidPresent(cfg Config) (bool, error) {
	if thunk.Is64Bit {
		return true, nil
	}
	p, err := NewFeatureProbe(Config{Registry: cfg.Registry, Memory: cfg.Memory, NewCode: cfg.NewCode})
	if err != nil {
		return false, err
	}
	defer p.Dispose()
	return p.Supported(), nil
}
