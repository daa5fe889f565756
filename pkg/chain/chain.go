// Package chain defines the on-chain request source collaborator. The engine
// never talks to a node directly; it consumes these narrow contracts and
// tolerates eventual consistency (a request may appear settled slightly
// before or after our own confirmation observation).
package chain

import (
	"context"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

// TxStatus is the chain-level view of a submitted settlement transaction.
type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxMined    TxStatus = "mined"
	TxReverted TxStatus = "reverted"
	TxUnknown  TxStatus = "unknown"
)

// RequestSource lists outstanding requests and answers settlement queries.
type RequestSource interface {
	// ListOutstanding returns the currently outstanding requests. Finite per
	// call, restartable; order is not significant.
	ListOutstanding(ctx context.Context) ([]contracts.RequestView, error)

	// IsSettled reports whether the request has been settled on-chain,
	// regardless of by whom.
	IsSettled(ctx context.Context, requestID string) (bool, error)
}

// SettlementSink signs and sends settlement transactions. Implementations
// hold the shared signing credential; nonce allocation is serialized inside.
type SettlementSink interface {
	// SubmitSettlement sends the settlement transaction and returns its hash.
	// It does not wait for confirmation.
	SubmitSettlement(ctx context.Context, requestID string, price int64, evidenceHash string) (string, error)

	// TransactionStatus reports confirmation state for a submitted tx.
	TransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
}

// Client is the full collaborator surface the engine wires in.
type Client interface {
	RequestSource
	SettlementSink
}
