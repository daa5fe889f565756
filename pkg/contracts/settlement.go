package contracts

import "time"

// ConfirmationState tracks a settlement transaction independently of
// resolution-level retries.
type ConfirmationState string

const (
	ConfirmationPending   ConfirmationState = "pending"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationFailed    ConfirmationState = "failed"
)

// SettlementRecord is created by the settlement submitter. TxHash is set at
// most once per request; the record is terminal once confirmed or permanently
// failed.
type SettlementRecord struct {
	RequestID      string            `json:"request_id"`
	TxHash         string            `json:"tx_hash"`
	SubmittedPrice int64             `json:"submitted_price"`
	EvidenceHash   string            `json:"evidence_hash"`
	State          ConfirmationState `json:"state"`
	SubmittedAt    time.Time         `json:"submitted_at"`
	ConfirmedAt    time.Time         `json:"confirmed_at,omitempty"`
}
