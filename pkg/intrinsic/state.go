package intrinsic

import "fmt"

// State is the availability of an intrinsic on the running processor.
//
// Unknown -> Compiled -> Available | NotAvailable. Available and
// NotAvailable are terminal and shared through the Registry.
type State uint8

const (
	Unknown State = iota
	Compiled
	Available
	NotAvailable
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Compiled:
		return "compiled"
	case Available:
		return "available"
	case NotAvailable:
		return "not available"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal returns true for the states recorded in the registry.
func (s State) Terminal() bool {
	return s == Available || s == NotAvailable
}

// ID identifies a concrete intrinsic in the Registry.
type ID string

const (
	IDFeatureProbe    ID = "cpuid-probe"
	IDCPUID           ID = "cpuid"
	IDRDTSC           ID = "rdtsc"
	IDRDTSCOrdered    ID = "lfence+rdtsc"
	IDRDTSCP          ID = "rdtscp"
	IDRDTSCSerialized ID = "cpuid+rdtsc"
	IDRDRAND          ID = "rdrand"
	IDRDSEED          ID = "rdseed"
)

// IDs lists every intrinsic identity in a stable order.
var IDs = []ID{IDFeatureProbe, IDCPUID, IDRDTSC, IDRDTSCOrdered, IDRDTSCP, IDRDTSCSerialized, IDRDRAND, IDRDSEED}

// ParseID returns the ID named s.
func ParseID(s string) (ID, error) {
	for _, id := range IDs {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown intrinsic %q", s)
}
