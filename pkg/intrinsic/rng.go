package intrinsic

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/go-delve/intrinsics/pkg/logflags"
	"github.com/go-delve/intrinsics/pkg/thunk"
)

// rng is the part shared by RDRAND and RDSEED.
type rng struct {
	base
	cpu     *CpuId
	feature Feature
	stamp   func() int64
	gen     func() (uint64, bool, error)
}

func newRNG(id ID, feature Feature, cpu *CpuId, tsc *Rdtsc, cfg Config) (*rng, error) {
	r := &rng{
		base:    newBase(id, cfg, logflags.RNGLogger()),
		cpu:     cpu,
		feature: feature,
	}
	r.stamp = r.cfg.Clock
	if tsc != nil {
		r.stamp = tsc.Timestamp
	}
	r.gen = r.hardware

	if cpu == nil {
		tmp, err := NewCpuId(Config{Registry: cfg.Registry, Memory: cfg.Memory, NewCode: cfg.NewCode})
		if err != nil {
			return nil, err
		}
		defer tmp.Dispose()
		r.cpu = tmp
	}
	err := r.Compile(true)
	r.cpu = nil
	if err != nil {
		r.Dispose()
		return nil, err
	}
	return r, nil
}

// Compile implements the state machine of the intrinsic.
func (r *rng) Compile(forMachine bool) error {
	x86, x64, _ := Bytecode(r.id)
	return r.compile(forMachine, x86, x64, r.probe, r.useFallback)
}

func (r *rng) probe() error {
	if !r.cpu.Supports(r.feature) {
		return &ProbeFaultError{ID: r.id, Reason: fmt.Sprintf("%v is not supported", r.feature)}
	}
	_, _, err := r.draw()
	return err
}

func (r *rng) useFallback() {
	r.log.Infof("using the timestamp counter as entropy source")
	r.gen = func() (uint64, bool, error) {
		return uint64(r.stamp()), true, nil
	}
}

// draw executes the instruction once. On 32-bit processes only the low
// half of the result is written.
func (r *rng) draw() (uint64, bool, error) {
	var v, cf uint64
	err := thunk.Borrow(&v, func(p unsafe.Pointer) error {
		var err error
		cf, err = r.call(p)
		return err
	})
	return v, cf&1 == 1, err
}

func (r *rng) hardware() (uint64, bool, error) {
	lo, ok, err := r.draw()
	if err != nil || !ok || thunk.Is64Bit {
		return lo, ok, err
	}
	hi, ok, err := r.draw()
	if err != nil || !ok {
		return 0, ok, err
	}
	return lo&0xffffffff | hi<<32, true, nil
}

func (r *rng) generate(retries int) (uint64, bool, error) {
	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		v, ok, err := r.gen()
		if err != nil {
			return 0, false, err
		}
		if ok {
			return v, true, nil
		}
		r.log.Debugf("attempt %d returned no entropy", i+1)
	}
	return 0, false, nil
}

// TryGenerate makes up to retries attempts at generating a random value.
// It returns false only if every attempt failed, in which case the
// caller must use a different source of entropy.
func (r *rng) TryGenerate(retries int) (uint64, bool) {
	v, ok, err := r.generate(retries)
	if err != nil {
		r.fail(err)
	}
	return v, ok
}

// Uint64 returns a random value, trying as many times as configured.
func (r *rng) Uint64() (uint64, error) {
	v, ok, err := r.generate(r.cfg.RandRetries)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrEntropyExhausted
	}
	return v, nil
}

// Uint32 returns the low half of Uint64.
func (r *rng) Uint32() (uint32, error) {
	v, err := r.Uint64()
	return uint32(v), err
}

// Read fills p with random bytes.
func (r *rng) Read(p []byte) (int, error) {
	var buf [8]byte
	n := 0
	for n < len(p) {
		v, err := r.Uint64()
		if err != nil {
			return n, err
		}
		binary.LittleEndian.PutUint64(buf[:], v)
		n += copy(p[n:], buf[:])
	}
	return n, nil
}

// Rdrand reads the hardware random number generator. Without RDRAND the
// timestamp counter is returned instead, Hardware reports which one is in
// use.
type Rdrand struct {
	*rng
}

// NewRdrand returns an Rdrand. tsc is the fallback source, if nil the
// clock of cfg is used. If cpu is nil a temporary CpuId is created.
func NewRdrand(cpu *CpuId, tsc *Rdtsc, cfg Config) (*Rdrand, error) {
	r, err := newRNG(IDRDRAND, RDRAND, cpu, tsc, cfg)
	if err != nil {
		return nil, err
	}
	return &Rdrand{r}, nil
}

// Rdseed reads the entropy source that seeds the hardware random number
// generator. It fails more often than Rdrand under load. Without RDSEED
// the timestamp counter is returned instead.
type Rdseed struct {
	*rng
}

// NewRdseed is like NewRdrand for RDSEED.
func NewRdseed(cpu *CpuId, tsc *Rdtsc, cfg Config) (*Rdseed, error) {
	r, err := newRNG(IDRDSEED, RDSEED, cpu, tsc, cfg)
	if err != nil {
		return nil, err
	}
	return &Rdseed{r}, nil
}
