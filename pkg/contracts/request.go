package contracts

import "time"

// RequestState is the lifecycle state of a resolution request.
type RequestState string

// Lifecycle states. Scheduled is the initial state; the Finalized* states are
// terminal.
const (
	StateScheduled    RequestState = "scheduled"
	StateResolving    RequestState = "resolving"
	StateWaitingRetry RequestState = "waiting_retry"

	// Terminal states. Settled: we resolved and settled on-chain. Defaulted:
	// the deadline passed before a successful attempt and the default outcome
	// applies. External: another resolver settled the request first.
	StateFinalizedSettled   RequestState = "finalized/settled"
	StateFinalizedDefaulted RequestState = "finalized/defaulted"
	StateFinalizedExternal  RequestState = "finalized/external"
)

// Terminal reports whether the state admits no further transitions.
func (s RequestState) Terminal() bool {
	switch s {
	case StateFinalizedSettled, StateFinalizedDefaulted, StateFinalizedExternal:
		return true
	}
	return false
}

// Request is one on-chain ask for a subjective outcome. The lifecycle store
// owns the authoritative copy; everything else works on snapshots.
type Request struct {
	// ID is the deterministic hash of identifier+timestamp+ancillary data,
	// hex-encoded with 0x prefix. See ComputeRequestID.
	ID string `json:"id"`

	// Identifier is the on-chain query identifier (e.g. keccak("YES_OR_NO_QUERY")).
	Identifier string `json:"identifier"`

	// AncillaryData is the opaque byte blob that fully specifies the
	// resolution rules, sources, and rounding policy.
	AncillaryData []byte `json:"ancillary_data"`

	RequestTimestamp    time.Time `json:"request_timestamp"`
	EarliestResolveTime time.Time `json:"earliest_resolve_time"`

	// Deadline is the hard cutoff. Past it the default outcome applies.
	Deadline time.Time `json:"deadline"`

	State        RequestState `json:"state"`
	AttemptCount int          `json:"attempt_count"`
	LastError    string       `json:"last_error,omitempty"`
	LastAttempt  time.Time    `json:"last_attempt_at,omitempty"`

	// NextEligible is when the scheduler may next dispatch this request.
	// Advanced by backoff after recoverable failures.
	NextEligible time.Time `json:"next_eligible,omitempty"`

	// PreparedCode caches a generated script staged ahead of the execution
	// window so the settlement attempt does not pay generation latency.
	PreparedCode string `json:"prepared_code,omitempty"`

	// PreparedConfidence is the static-analysis confidence label for
	// PreparedCode: HIGH, MEDIUM, or LOW.
	PreparedConfidence string `json:"prepared_confidence,omitempty"`
}

// RequestView is the on-chain projection of a request as returned by the
// request source collaborator.
type RequestView struct {
	ID               string    `json:"id"`
	Identifier       string    `json:"identifier"`
	AncillaryData    []byte    `json:"ancillary_data"`
	RequestTimestamp time.Time `json:"request_timestamp"`
	Settled          bool      `json:"settled"`
	SettledPrice     int64     `json:"settled_price,omitempty"`
}
