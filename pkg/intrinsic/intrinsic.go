// Package intrinsic executes processor instructions that Go does not
// expose (CPUID, RDTSC, RDTSCP, RDRAND and RDSEED) by placing small
// machine code thunks in executable memory.
//
// Every intrinsic probes the processor once, the first time it is
// constructed, and records the outcome in a Registry. Later constructions
// reuse the recorded state and go straight to either the hardware path or
// a software fallback.
package intrinsic

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/go-delve/intrinsics/pkg/logflags"
	"github.com/go-delve/intrinsics/pkg/thunk"
)

// Code is the executable machine code behind an intrinsic.
// *thunk.Thunk is the implementation used outside of tests.
type Code interface {
	Compile(x86, x64 []byte) error
	Call(arg unsafe.Pointer) (uint64, error)
	Release() error
}

// Config describes how intrinsics are constructed. The zero value uses
// DefaultRegistry, the memory provider of the operating system and the
// monotonic clock.
type Config struct {
	// Registry records probe results. Defaults to DefaultRegistry.
	Registry *Registry
	// Memory backs the thunks created when NewCode is nil.
	Memory thunk.Provider
	// NewCode creates the executable code of one intrinsic.
	NewCode func() Code
	// Strict makes constructors fail with *UnsupportedOperationError
	// instead of falling back to software.
	Strict bool
	// Clock returns a monotonic timestamp in nanoseconds, used when the
	// timestamp counter can not be read.
	Clock func() int64
	// RandRetries is the number of attempts Uint64 makes on RDRAND and
	// RDSEED before giving up. Defaults to DefaultRandRetries.
	RandRetries int
	// TSCVariant selects the timestamp counter instruction sequence.
	TSCVariant TSCVariant
}

// DefaultRandRetries follows the vendor guidance for RDRAND: retrying ten
// times makes a failure caused by anything but a broken generator
// vanishingly unlikely.
const DefaultRandRetries = 10

var processStart = time.Now()

func monotonicClock() int64 {
	return int64(time.Since(processStart))
}

func (cfg Config) withDefaults() Config {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry
	}
	if cfg.NewCode == nil {
		mem := cfg.Memory
		cfg.NewCode = func() Code { return thunk.New(mem) }
	}
	if cfg.Clock == nil {
		cfg.Clock = monotonicClock
	}
	if cfg.RandRetries <= 0 {
		cfg.RandRetries = DefaultRandRetries
	}
	return cfg
}

// base drives the state machine shared by every intrinsic.
type base struct {
	id    ID
	cfg   Config
	code  Code
	state State
	log   logflags.Logger
}

func newBase(id ID, cfg Config, log logflags.Logger) base {
	cfg = cfg.withDefaults()
	return base{id: id, cfg: cfg, code: cfg.NewCode(), log: log.WithField("intrinsic", string(id))}
}

// ID returns the registry identity of the intrinsic.
func (b *base) ID() ID { return b.id }

// State returns the state of this instance.
func (b *base) State() State { return b.state }

// Hardware returns true if calls reach the processor instruction rather
// than the software fallback.
func (b *base) Hardware() bool { return b.state == Available }

// compile loads x86/x64 and, if the registry has no record of the
// intrinsic yet, probes it. fallback is wired in when the instruction is
// not available. Nothing happens when forMachine is false.
func (b *base) compile(forMachine bool, x86, x64 []byte, probe func() error, fallback func()) error {
	if !forMachine {
		return nil
	}
	st, err := b.cfg.Registry.Populate(b.id, func() (State, error) {
		if err := b.load(x86, x64); err != nil {
			return Unknown, err
		}
		return b.probe(probe)
	})
	if err != nil {
		return err
	}

	if st != Available {
		b.disable(fallback)
		if b.cfg.Strict {
			return &UnsupportedOperationError{ID: b.id}
		}
		return nil
	}
	if b.state != Compiled {
		if err := b.load(x86, x64); err != nil {
			return err
		}
	}
	b.state = Available
	return nil
}

func (b *base) load(x86, x64 []byte) error {
	if err := b.code.Compile(x86, x64); err != nil {
		b.log.Errorf("compile: %v", err)
		return err
	}
	b.state = Compiled
	return nil
}

// probe runs the first invocation. A fault makes the intrinsic
// NotAvailable, any other error is returned.
func (b *base) probe(fn func() error) (State, error) {
	err := fn()
	switch {
	case err == nil:
		b.log.Debugf("probe succeeded")
		return Available, nil
	case isFault(err):
		b.log.Infof("probe faulted: %v", err)
		return NotAvailable, nil
	default:
		return Unknown, err
	}
}

func (b *base) disable(fallback func()) {
	if err := b.code.Release(); err != nil {
		b.log.Warnf("release: %v", err)
	}
	b.state = NotAvailable
	fallback()
}

// call invokes the compiled code. A fault after the intrinsic has been
// recorded as Available is reported as a *StateCorruptionError.
func (b *base) call(arg unsafe.Pointer) (uint64, error) {
	v, err := b.code.Call(arg)
	if err != nil && b.state == Available && isFault(err) {
		return 0, &StateCorruptionError{ID: b.id, Err: err}
	}
	return v, err
}

// mustCall is call for methods that can not return an error. Calling a
// disposed intrinsic is a programming error and also panics.
func (b *base) mustCall(arg unsafe.Pointer) uint64 {
	v, err := b.call(arg)
	if err != nil {
		b.fail(err)
	}
	return v
}

func (b *base) fail(err error) {
	var sc *StateCorruptionError
	if errors.As(err, &sc) {
		b.log.Errorf("%v", sc)
		panic(sc)
	}
	panic(fmt.Errorf("%s: %w", b.id, err))
}

// Dispose releases the executable memory of the intrinsic. It is safe to
// call more than once. A disposed intrinsic must not be used.
func (b *base) Dispose() error {
	return b.code.Release()
}
