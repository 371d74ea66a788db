package murk

import (
	"errors"
	"math"
)

// Code is a stable numeric error code for the boundary taxonomy in spec
// §6.5. Numeric stability matters here: these values cross the FFI/wire
// boundary (an external collaborator's concern, per spec scope) so they must
// never be renumbered once assigned.
type Code uint8

const (
	CodeOK Code = iota
	CodeInvalidHandle
	CodePlanInvalidated
	CodeTickTimeout
	CodeSnapshotNotAvailable
	CodeInvalidComposition
	CodeQueueFull
	CodeStaleCommand
	CodeTickRollback
	CodeAllocationFailed
	CodePropagatorFailed
	CodeExecutionFailed
	CodeInvalidSpec
	CodeDtOutOfRange
	CodeWorkerStalled
	CodeShuttingDown
	CodeTickDisabled
	CodeInvalidCoord
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInvalidHandle:
		return "InvalidHandle"
	case CodePlanInvalidated:
		return "PlanInvalidated"
	case CodeTickTimeout:
		// Reserved for a future wall-clock tick deadline; no caller
		// constructs it yet since the tick engine has no hard per-tick
		// timeout in v1 (only the soft tick-budget telemetry in TickMetrics).
		return "TickTimeout"
	case CodeSnapshotNotAvailable:
		return "SnapshotNotAvailable"
	case CodeInvalidComposition:
		return "InvalidComposition"
	case CodeQueueFull:
		return "QueueFull"
	case CodeStaleCommand:
		return "StaleCommand"
	case CodeTickRollback:
		return "TickRollback"
	case CodeAllocationFailed:
		return "AllocationFailed"
	case CodePropagatorFailed:
		return "PropagatorFailed"
	case CodeExecutionFailed:
		return "ExecutionFailed"
	case CodeInvalidSpec:
		return "InvalidSpec"
	case CodeDtOutOfRange:
		return "DtOutOfRange"
	case CodeWorkerStalled:
		return "WorkerStalled"
	case CodeShuttingDown:
		return "ShuttingDown"
	case CodeTickDisabled:
		return "TickDisabled"
	case CodeInvalidCoord:
		return "InvalidCoord"
	default:
		return "Unknown"
	}
}

// Error is the typed error carried across the core's boundary. It always
// carries a stable Code in addition to the Go error chain, so callers that
// need the taxonomy (FFI bindings, metrics) never have to pattern-match on
// a message string.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a stable Code.
func NewError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Sentinel errors usable with errors.Is, one per taxonomy entry that isn't
// better expressed as a dynamic *Error (constructed with specific context).
var (
	ErrInvalidConfig      = errors.New("murk: invalid config")
	ErrTickDisabled       = errors.New("murk: tick disabled after consecutive rollbacks")
	ErrQueueFull          = errors.New("murk: ingress queue full")
	ErrShuttingDown       = errors.New("murk: shutting down")
	ErrDtOutOfRange       = errors.New("murk: dt out of range")
	ErrInvalidSpec        = errors.New("murk: invalid propagator pipeline spec")
	ErrArrivalSeqOverflow = errors.New("murk: arrival sequence overflow")
)

func isNonFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
