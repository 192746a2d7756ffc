package intrinsic

import (
	"errors"
	"fmt"

	"github.com/go-delve/intrinsics/pkg/thunk"
)

// ErrEntropyExhausted is returned when RDRAND or RDSEED kept reporting
// that no random value was available for every retry.
var ErrEntropyExhausted = errors.New("hardware random number generator returned no entropy")

// UnsupportedOperationError is returned when strict hardware support was
// requested for an intrinsic the processor does not support.
type UnsupportedOperationError struct {
	ID ID
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("intrinsic %s is not available on this processor", e.ID)
}

// ProbeFaultError reports that an instruction faulted, or would have
// faulted, the first time it was tried.
type ProbeFaultError struct {
	ID     ID
	Reason string
	Err    error
}

func (e *ProbeFaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probing %s faulted: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("probing %s faulted: %s", e.ID, e.Reason)
}

func (e *ProbeFaultError) Unwrap() error { return e.Err }

// StateCorruptionError is returned, or raised as a panic by methods that
// do not return errors, when an intrinsic recorded as Available faults.
// This happens if the process was migrated to a different processor
// after probing and it can not be recovered from.
type StateCorruptionError struct {
	ID  ID
	Err error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("intrinsic %s faulted after it was recorded as available: %v", e.ID, e.Err)
}

func (e *StateCorruptionError) Unwrap() error { return e.Err }

// isFault returns true if err means that the instruction can not run on
// this processor.
func isFault(err error) bool {
	var pf *ProbeFaultError
	return errors.As(err, &pf) || errors.Is(err, thunk.ErrNoTrampoline)
}
