package contracts

import "errors"

// FailureClass buckets engine failures per the error taxonomy: transient
// infrastructure faults back off and retry, semantic rejections consume an
// attempt, permanent faults end the automated path, and consistency races are
// not errors at all.
type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailureSemantic  FailureClass = "semantic"
	FailurePermanent FailureClass = "permanent"
	FailureRace      FailureClass = "race"
)

// Sentinel errors shared across the engine.
var (
	// ErrIllegalTransition marks a lifecycle edge outside the legal set. It is
	// a programming-error-class failure: fatal for the request, logged, never
	// retried.
	ErrIllegalTransition = errors.New("illegal lifecycle transition")

	// ErrStaleAnchor is returned when the clock anchor's last sync is older
	// than the staleness threshold. Scheduling fails closed on it.
	ErrStaleAnchor = errors.New("clock anchor stale")

	// ErrClockSync is returned when the authoritative time source is
	// unreachable. Non-fatal: the previous offset stays valid until stale.
	ErrClockSync = errors.New("clock sync failed")

	// ErrAlreadySettled is observed when another resolver settled the request
	// first. Routed to finalized/external, never surfaced as a failure.
	ErrAlreadySettled = errors.New("request already settled on-chain")

	// ErrUnauthorizedSigner is a permanent settlement failure: the signing key
	// lacks the resolver capability. Surfaced for operator attention.
	ErrUnauthorizedSigner = errors.New("signer not authorized to settle")

	// ErrNotFound is the shared lookup miss.
	ErrNotFound = errors.New("not found")
)

// EngineError attaches a failure class to an underlying error so the
// scheduler can route it without string matching.
type EngineError struct {
	Class FailureClass
	Err   error
}

func (e *EngineError) Error() string { return string(e.Class) + ": " + e.Err.Error() }
func (e *EngineError) Unwrap() error { return e.Err }

// Transient wraps err as a recoverable infrastructure failure.
func Transient(err error) error { return &EngineError{Class: FailureTransient, Err: err} }

// Semantic wraps err as a verifier rejection.
func Semantic(err error) error { return &EngineError{Class: FailureSemantic, Err: err} }

// Permanent wraps err as terminal for the automated path.
func Permanent(err error) error { return &EngineError{Class: FailurePermanent, Err: err} }

// ClassOf extracts the failure class from err, defaulting to transient so an
// unclassified fault backs off instead of crashing the coordinator.
func ClassOf(err error) FailureClass {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Class
	}
	if errors.Is(err, ErrAlreadySettled) {
		return FailureRace
	}
	if errors.Is(err, ErrUnauthorizedSigner) || errors.Is(err, ErrIllegalTransition) {
		return FailurePermanent
	}
	return FailureTransient
}
