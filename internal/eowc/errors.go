package eowc

import "errors"

// Error taxonomy per the operator's contract: everything the executor
// loop surfaces is fatal to the current epoch. None of these are
// retried locally — the enclosing framework is expected to replay from
// the last committed epoch after a restart.
var (
	// ErrNotBarrierFirst is returned when the first message the executor
	// loop observes is not a Barrier, which the upstream contract
	// requires unconditionally.
	ErrNotBarrierFirst = errors.New("eowc: first message from upstream must be a barrier")

	// ErrOrderKeyNull is returned when an input row's order-key column is
	// NULL, violating the non-null, totally-ordered order-key contract.
	ErrOrderKeyNull = errors.New("eowc: order key column must be non-NULL")

	// ErrNonAscendingAppend is returned when append() is called with a
	// StateKey not strictly greater than the previous one observed by a
	// Window-State.
	ErrNonAscendingAppend = errors.New("eowc: state key must be strictly ascending within a partition")

	// ErrNotAligned is returned by Partition.DrainReady/DiscardReady when
	// every Window-State reports a ready window but the current-row buffer
	// holds no row for it.
	ErrNotAligned = errors.New("eowc: partition window states are not aligned")

	// ErrOutputNotReady is returned by CurrOutput when called on a
	// Window-State whose current window is not yet ready.
	ErrOutputNotReady = errors.New("eowc: current window is not ready")

	// ErrUnboundedFollowing is a construction-time contract violation:
	// an aggregate frame with unbounded FOLLOWING can never become ready
	// under emit-on-window-close semantics.
	ErrUnboundedFollowing = errors.New("eowc: aggregate frame must not have unbounded following")

	// ErrUnknownCallKind is returned when a WindowFuncCall names a Kind
	// outside the closed CallKind enum.
	ErrUnknownCallKind = errors.New("eowc: unknown window function call kind")
)

// ContractViolation wraps an error to mark it as an upstream-bug class
// failure per §7 of the operator's contract ("indicate upstream bugs").
// The executor loop treats a ContractViolation identically to any other
// fatal error (no local retry) but callers/logs can distinguish the
// class with errors.As.
type ContractViolation struct {
	Err error
}

func (e *ContractViolation) Error() string { return e.Err.Error() }
func (e *ContractViolation) Unwrap() error { return e.Err }

func NewContractViolation(err error) error {
	return &ContractViolation{Err: err}
}
