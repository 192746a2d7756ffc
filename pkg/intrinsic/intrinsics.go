package intrinsic

import (
	"errors"
	"sync"
)

// Intrinsics groups one instance of every intrinsic, sharing a single
// CpuId.
type Intrinsics struct {
	CPU  *CpuId
	TSC  *Rdtsc
	Rand *Rdrand
	Seed *Rdseed
}

// New constructs every intrinsic with cfg.
func New(cfg Config) (*Intrinsics, error) {
	in := &Intrinsics{}
	var err error
	if in.CPU, err = NewCpuId(cfg); err != nil {
		return nil, err
	}
	if in.TSC, err = NewRdtsc(in.CPU, cfg); err != nil {
		in.Close()
		return nil, err
	}
	if in.Rand, err = NewRdrand(in.CPU, in.TSC, cfg); err != nil {
		in.Close()
		return nil, err
	}
	if in.Seed, err = NewRdseed(in.CPU, in.TSC, cfg); err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

// Close releases the executable memory of every intrinsic.
func (in *Intrinsics) Close() error {
	var errs []error
	if in.Seed != nil {
		errs = append(errs, in.Seed.Dispose())
	}
	if in.Rand != nil {
		errs = append(errs, in.Rand.Dispose())
	}
	if in.TSC != nil {
		errs = append(errs, in.TSC.Dispose())
	}
	if in.CPU != nil {
		errs = append(errs, in.CPU.Dispose())
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Supports returns true if the processor reports feature f.
func (in *Intrinsics) Supports(f Feature) bool {
	return in.CPU.Supports(f)
}

// Random64 returns a value from RDRAND. If the generator keeps failing,
// or there is none, the timestamp counter is returned.
func (in *Intrinsics) Random64() uint64 {
	v, err := in.Rand.Uint64()
	switch {
	case err == nil:
		return v
	case errors.Is(err, ErrEntropyExhausted):
		in.Rand.log.Warnf("%v", err)
		return uint64(in.TSC.Timestamp())
	}
	in.Rand.fail(err)
	return 0
}

// Timestamp returns the timestamp counter.
func (in *Intrinsics) Timestamp() int64 {
	return in.TSC.Timestamp()
}

// States returns the state of every intrinsic instance.
func (in *Intrinsics) States() map[ID]State {
	return map[ID]State{
		in.CPU.ID():  in.CPU.State(),
		in.TSC.ID():  in.TSC.State(),
		in.Rand.ID(): in.Rand.State(),
		in.Seed.ID(): in.Seed.State(),
	}
}

var (
	defaultOnce       sync.Once
	defaultIntrinsics *Intrinsics
	defaultErr        error
)

// Default returns the process-wide Intrinsics, built with the zero
// Config the first time it is called.
func Default() (*Intrinsics, error) {
	defaultOnce.Do(func() {
		defaultIntrinsics, defaultErr = New(Config{})
	})
	return defaultIntrinsics, defaultErr
}

// Supports reports feature f using Default. It is false if the
// intrinsics could not be constructed.
func Supports(f Feature) bool {
	in, err := Default()
	if err != nil {
		return false
	}
	return in.Supports(f)
}

// Random64 returns a random value using Default.
func Random64() uint64 {
	in, err := Default()
	if err != nil {
		return uint64(monotonicClock())
	}
	return in.Random64()
}

// Timestamp returns the timestamp counter using Default.
func Timestamp() int64 {
	in, err := Default()
	if err != nil {
		return monotonicClock()
	}
	return in.Timestamp()
}

// VendorString returns the vendor identification using Default.
func VendorString() string {
	in, err := Default()
	if err != nil {
		return ""
	}
	return in.CPU.VendorString()
}

// ProcessorBrandString returns the brand string using Default.
func ProcessorBrandString() string {
	in, err := Default()
	if err != nil {
		return ""
	}
	return in.CPU.ProcessorBrandString()
}

// LogicalCores returns the number of logical processors using Default.
func LogicalCores() int {
	in, err := Default()
	if err != nil {
		return 0
	}
	return in.CPU.LogicalCores()
}

// PhysicalCores returns the number of cores using Default.
func PhysicalCores() int {
	in, err := Default()
	if err != nil {
		return 0
	}
	return in.CPU.PhysicalCores()
}

// ThreadsPerCore returns the number of hardware threads per core using
// Default.
func ThreadsPerCore() int {
	in, err := Default()
	if err != nil {
		return 1
	}
	return in.CPU.ThreadsPerCore()
}
