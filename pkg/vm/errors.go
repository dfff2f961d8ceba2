package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMoreRegions is returned by a Querier once the cursor is past the
	// last mapped region. Walk treats it as normal termination.
	ErrNoMoreRegions = errors.New("no more regions")
	ErrUnsupported   = errors.New("mach region queries are not supported on this platform")
	ErrNoProgress    = errors.New("region walk made no progress")
	ErrInvalidTask   = errors.New("invalid task handle")
)

// KernError carries a kern_return_t from a failed Mach call.
type KernError struct {
	Op   string
	Code int32
	Msg  string
}

func (e *KernError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s (kern_return %#x)", e.Op, e.Msg, e.Code)
	}
	return fmt.Sprintf("%s: kern_return %#x", e.Op, e.Code)
}

// WalkError reports a walk aborted by a query failure other than end of
// enumeration. Regions collected before the failure are returned alongside it.
type WalkError struct {
	Cursor    uint64
	Depth     uint32
	Collected int
	Err       error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("region walk aborted at %#x (depth %d) after %d regions: %v", e.Cursor, e.Depth, e.Collected, e.Err)
}

func (e *WalkError) Unwrap() error { return e.Err }
