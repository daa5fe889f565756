// Package settlement turns an accepted outcome into an on-chain settlement
// exactly once, and tracks the transaction until it confirms.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/subjective-labs/resolver/pkg/chain"
	"github.com/subjective-labs/resolver/pkg/contracts"
	"github.com/subjective-labs/resolver/pkg/dedupe"
	"github.com/subjective-labs/resolver/pkg/evidence"
	"github.com/subjective-labs/resolver/pkg/store"
)

type Submitter struct {
	chain    chain.Client
	store    *store.LifecycleStore
	evidence *evidence.Store
	auth     *Authorizer
	recent   dedupe.Cache

	confirmEvery time.Duration
	confirmFor   time.Duration
	logger       *slog.Logger
}

func New(c chain.Client, st *store.LifecycleStore, ev *evidence.Store, auth *Authorizer, recent dedupe.Cache, confirmEvery, confirmFor time.Duration) *Submitter {
	return &Submitter{
		chain:        c,
		store:        st,
		evidence:     ev,
		auth:         auth,
		recent:       recent,
		confirmEvery: confirmEvery,
		confirmFor:   confirmFor,
		logger:       slog.Default().With("component", "settlement"),
	}
}

// Settle submits the settlement for req backed by bundle and waits for
// confirmation. The sequence is: capability check, fresh settled re-check,
// evidence persisted and hashed, then submit. The tx hash is bound to the
// request at most once; re-entering Settle after a crash resumes confirmation
// of the recorded tx instead of submitting again.
func (s *Submitter) Settle(ctx context.Context, req *contracts.Request, bundle *contracts.EvidenceBundle) (*contracts.SettlementRecord, error) {
	if err := s.auth.Authorize(); err != nil {
		return nil, err
	}

	// Someone else may have settled while we resolved.
	settled, err := s.chain.IsSettled(ctx, req.ID)
	if err != nil {
		return nil, contracts.Transient(fmt.Errorf("settled re-check: %w", err))
	}
	if settled {
		return nil, contracts.ErrAlreadySettled
	}

	hash, err := s.evidence.Put(ctx, bundle)
	if errors.Is(err, evidence.ErrImmutable) {
		// Evidence from a previous run of this request survives; reuse it.
		_, hash, err = s.evidence.Get(ctx, req.ID)
	}
	if err != nil {
		return nil, contracts.Transient(fmt.Errorf("persist evidence: %w", err))
	}

	rec, err := s.store.RecordSettlement(ctx, &contracts.SettlementRecord{
		RequestID:      req.ID,
		SubmittedPrice: bundle.Price,
		EvidenceHash:   hash,
		State:          contracts.ConfirmationPending,
		SubmittedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, contracts.Transient(fmt.Errorf("record settlement: %w", err))
	}

	if rec.TxHash == "" {
		txHash, err := s.chain.SubmitSettlement(ctx, req.ID, bundle.Price, hash)
		if err != nil {
			if errors.Is(err, contracts.ErrAlreadySettled) {
				return nil, contracts.ErrAlreadySettled
			}
			return nil, err
		}
		rec.TxHash = txHash

		if err := s.evidence.SetTxHash(ctx, req.ID, txHash); err != nil {
			s.logger.Warn("tx hash not bound to evidence", "request_id", req.ID, "error", err)
		}
		if err := s.store.BindTxHash(ctx, req.ID, txHash); err != nil {
			return nil, err
		}
		s.logger.Info("settlement submitted", "request_id", req.ID, "tx_hash", txHash, "price", bundle.Price)
	} else {
		s.logger.Info("resuming confirmation of recorded tx", "request_id", req.ID, "tx_hash", rec.TxHash)
	}

	if s.recent != nil {
		if err := s.recent.MarkSettled(ctx, req.ID, dedupe.DefaultTTL); err != nil {
			s.logger.Warn("recently-settled mark failed", "request_id", req.ID, "error", err)
		}
	}

	if err := s.confirm(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// confirm polls the transaction until it mines, reverts, or the confirmation
// window closes. An unconfirmed tx stays pending; the record is only terminal
// on a definitive chain answer.
func (s *Submitter) confirm(ctx context.Context, rec *contracts.SettlementRecord) error {
	deadline := time.Now().Add(s.confirmFor)
	ticker := time.NewTicker(s.confirmEvery)
	defer ticker.Stop()

	for {
		status, err := s.chain.TransactionStatus(ctx, rec.TxHash)
		if err != nil {
			s.logger.Warn("tx status check failed", "tx_hash", rec.TxHash, "error", err)
		}

		switch status {
		case chain.TxMined:
			rec.State = contracts.ConfirmationConfirmed
			rec.ConfirmedAt = time.Now().UTC()
			if err := s.store.MarkSettlement(ctx, rec.RequestID, rec.State, rec.ConfirmedAt); err != nil {
				return contracts.Transient(fmt.Errorf("mark confirmed: %w", err))
			}
			s.logger.Info("settlement confirmed", "request_id", rec.RequestID, "tx_hash", rec.TxHash)
			return nil

		case chain.TxReverted:
			// A revert usually means another resolver won the race; ask the
			// chain rather than guessing.
			settled, serr := s.chain.IsSettled(ctx, rec.RequestID)
			if serr == nil && settled {
				return contracts.ErrAlreadySettled
			}
			rec.State = contracts.ConfirmationFailed
			if err := s.store.MarkSettlement(ctx, rec.RequestID, rec.State, time.Time{}); err != nil {
				s.logger.Warn("mark failed state", "request_id", rec.RequestID, "error", err)
			}
			return contracts.Permanent(fmt.Errorf("settlement tx %s reverted", rec.TxHash))
		}

		if time.Now().After(deadline) {
			return contracts.Transient(fmt.Errorf("tx %s unconfirmed after %v", rec.TxHash, s.confirmFor))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
