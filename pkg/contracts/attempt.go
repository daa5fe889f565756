package contracts

import "time"

// Outcome is the enumerated candidate decision for a boolean request.
type Outcome string

const (
	OutcomeTrue    Outcome = "true"
	OutcomeFalse   Outcome = "false"
	OutcomeInvalid Outcome = "invalid"
)

// Valid reports whether o is one of the allowed enumerated values.
func (o Outcome) Valid() bool {
	return o == OutcomeTrue || o == OutcomeFalse || o == OutcomeInvalid
}

// Price maps the outcome onto the settlement price. True settles at 1,
// everything else at 0 (the configured "invalid / no change" default).
func (o Outcome) Price() int64 {
	if o == OutcomeTrue {
		return 1
	}
	return 0
}

// Attempt is the ephemeral record of one resolution try. It is not persisted
// beyond its evidence bundle unless accepted or exhausted.
type Attempt struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	StartedAt time.Time `json:"started_at"`

	// GeneratedCode holds the resolution logic that ran, or TemplateRef names
	// a pre-vetted template when no code was generated.
	GeneratedCode string `json:"generated_code,omitempty"`
	TemplateRef   string `json:"template_ref,omitempty"`

	// Confidence is the static-analysis label for GeneratedCode.
	Confidence string `json:"confidence,omitempty"`

	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ReturnValue string `json:"return_value,omitempty"`

	CandidateOutcome Outcome `json:"candidate_outcome"`
	Reason           string  `json:"reason,omitempty"`

	// Price is the bucketed numeric value reported by the resolution logic,
	// when the request asks for a numeric outcome.
	Price int64 `json:"price"`

	// SourceEvidence holds hashes of the external data the logic fetched.
	SourceEvidence []SourceRef `json:"source_evidence"`
}

// SourceRef is a hash/snapshot reference for one fetched external source.
type SourceRef struct {
	URL         string    `json:"url"`
	Hash        string    `json:"hash"`
	RetrievedAt time.Time `json:"retrieved_at"`
}
