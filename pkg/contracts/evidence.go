package contracts

import "time"

// EvidenceBundle is the persisted, immutable record of an accepted attempt.
// Written once by the verifier on acceptance; the settlement transaction hash
// is appended exactly once after confirmation.
type EvidenceBundle struct {
	RequestID  string    `json:"request_id"`
	Identifier string    `json:"identifier"`
	Ancillary  string    `json:"ancillary"`
	CreatedAt  time.Time `json:"created_at"`

	Code        string  `json:"code,omitempty"`
	TemplateRef string  `json:"template_ref,omitempty"`
	Stdout      string  `json:"stdout"`
	Stderr      string  `json:"stderr,omitempty"`
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
	Price       int64   `json:"price"`

	Sources []SourceRef `json:"sources"`

	// AnchorProof is the clock-anchor attestation in force when the attempt
	// was gated for dispatch.
	AnchorProof string `json:"anchor_proof,omitempty"`

	// TxHash is set after the settlement transaction confirms.
	TxHash string `json:"tx_hash,omitempty"`

	// Override marks an operator-supplied outcome.
	Override       bool   `json:"override,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`
}
