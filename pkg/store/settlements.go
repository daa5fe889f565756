package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

// RecordSettlement inserts the settlement record for a request. The primary
// key on request_id is what makes txHash at-most-once: a second submission
// attempt after one was recorded returns the existing record untouched.
func (s *LifecycleStore) RecordSettlement(ctx context.Context, rec *contracts.SettlementRecord) (*contracts.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getSettlement(ctx, rec.RequestID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, contracts.ErrNotFound) {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlements (request_id, tx_hash, submitted_price, evidence_hash, state, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.TxHash, rec.SubmittedPrice, rec.EvidenceHash,
		string(rec.State), fmtTime(rec.SubmittedAt))
	if err != nil {
		return nil, fmt.Errorf("record settlement: %w", err)
	}
	return rec, nil
}

// BindTxHash attaches the submitted transaction hash to a settlement record.
// The hash is write-once: binding the same hash again is a no-op, binding a
// different one is ErrIllegalTransition.
func (s *LifecycleStore) BindTxHash(ctx context.Context, requestID, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE settlements SET tx_hash = ? WHERE request_id = ? AND (tx_hash = '' OR tx_hash = ?)`,
		txHash, requestID, txHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, gerr := s.getSettlement(ctx, requestID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: settlement %s already bound to tx %s",
			contracts.ErrIllegalTransition, requestID, existing.TxHash)
	}
	return nil
}

// MarkSettlement updates the confirmation state of an existing record.
func (s *LifecycleStore) MarkSettlement(ctx context.Context, requestID string, state contracts.ConfirmationState, confirmedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE settlements SET state = ?, confirmed_at = ? WHERE request_id = ?`,
		string(state), fmtTime(confirmedAt), requestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contracts.ErrNotFound
	}
	return nil
}

// GetSettlement returns the settlement record for a request, if any.
func (s *LifecycleStore) GetSettlement(ctx context.Context, requestID string) (*contracts.SettlementRecord, error) {
	return s.getSettlement(ctx, requestID)
}

func (s *LifecycleStore) getSettlement(ctx context.Context, requestID string) (*contracts.SettlementRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, tx_hash, submitted_price, evidence_hash, state, submitted_at, confirmed_at
		FROM settlements WHERE request_id = ?`, requestID)

	var (
		rec                    contracts.SettlementRecord
		state                  string
		submittedAt, confirmed string
	)
	err := row.Scan(&rec.RequestID, &rec.TxHash, &rec.SubmittedPrice,
		&rec.EvidenceHash, &state, &submittedAt, &confirmed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrNotFound
		}
		return nil, err
	}
	rec.State = contracts.ConfirmationState(state)
	rec.SubmittedAt = parseTime(submittedAt)
	rec.ConfirmedAt = parseTime(confirmed)
	return &rec, nil
}
