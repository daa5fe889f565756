// Package store is the durable lifecycle store: the single writer of
// authoritative request state. Every transition funnels through one mutex and
// one transaction, which is what enforces the single-flight guarantee and the
// legal-edge set. Retry counters live here, not in memory, so a process
// restart resumes backoff where it left off.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

type LifecycleStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and migrates it.
func Open(path string) (*LifecycleStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open lifecycle db: %w", err)
	}
	// The store is the sole writer; a single connection sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return New(db)
}

func New(db *sql.DB) (*LifecycleStore, error) {
	s := &LifecycleStore{db: db, logger: slog.Default().With("component", "store")}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LifecycleStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS requests (
		request_id TEXT PRIMARY KEY,
		identifier TEXT NOT NULL,
		ancillary_data BLOB,
		request_timestamp TEXT NOT NULL,
		earliest_resolve_time TEXT NOT NULL,
		deadline TEXT NOT NULL,
		state TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		last_attempt_at TEXT NOT NULL DEFAULT '',
		next_eligible TEXT NOT NULL DEFAULT '',
		prepared_code TEXT NOT NULL DEFAULT '',
		prepared_confidence TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS settlements (
		request_id TEXT PRIMARY KEY,
		tx_hash TEXT NOT NULL,
		submitted_price INTEGER NOT NULL,
		evidence_hash TEXT NOT NULL,
		state TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		confirmed_at TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *LifecycleStore) Close() error { return s.db.Close() }

// legalEdges is the lifecycle transition table. Finalized/external is reachable
// from every non-terminal state and is handled separately.
var legalEdges = map[contracts.RequestState][]contracts.RequestState{
	contracts.StateScheduled: {
		contracts.StateResolving,
		// A request whose deadline passed before any attempt defaults
		// directly; dispatching doomed work would violate the deadline
		// invariant.
		contracts.StateFinalizedDefaulted,
	},
	contracts.StateResolving: {
		contracts.StateWaitingRetry,
		contracts.StateFinalizedSettled,
	},
	contracts.StateWaitingRetry: {
		contracts.StateResolving,
		contracts.StateFinalizedDefaulted,
	},
}

func edgeLegal(from, to contracts.RequestState) bool {
	if to == contracts.StateFinalizedExternal {
		return !from.Terminal()
	}
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Track inserts a newly observed request in the scheduled state. Re-tracking
// an already-known request is a no-op, which makes the watcher idempotent.
func (s *LifecycleStore) Track(ctx context.Context, req *contracts.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (
			request_id, identifier, ancillary_data, request_timestamp,
			earliest_resolve_time, deadline, state, next_eligible
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING`,
		req.ID, req.Identifier, req.AncillaryData,
		fmtTime(req.RequestTimestamp), fmtTime(req.EarliestResolveTime),
		fmtTime(req.Deadline), string(contracts.StateScheduled),
		fmtTime(req.EarliestResolveTime),
	)
	if err != nil {
		return fmt.Errorf("track request: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("tracking request", "request_id", req.ID, "deadline", req.Deadline)
	}
	return nil
}

// Get returns the authoritative record for a request id.
func (s *LifecycleStore) Get(ctx context.Context, requestID string) (*contracts.Request, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+` WHERE request_id = ?`, requestID)
	return scanRequest(row)
}

// ListActive returns every request not yet in a terminal state.
func (s *LifecycleStore) ListActive(ctx context.Context) ([]*contracts.Request, error) {
	rows, err := s.db.QueryContext(ctx, selectRequest+` WHERE state NOT LIKE 'finalized/%' ORDER BY request_timestamp`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectRequests(rows)
}

// List returns all tracked requests, newest first.
func (s *LifecycleStore) List(ctx context.Context, limit int) ([]*contracts.Request, error) {
	rows, err := s.db.QueryContext(ctx, selectRequest+` ORDER BY request_timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectRequests(rows)
}

// Transition moves a request along one legal edge, applying apply to the
// record inside the same critical section. An illegal edge returns
// contracts.ErrIllegalTransition and leaves the record untouched; corruption
// of other requests is impossible because each transition touches one row.
func (s *LifecycleStore) Transition(ctx context.Context, requestID string, to contracts.RequestState, apply func(*contracts.Request)) (*contracts.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, selectRequest+` WHERE request_id = ?`, requestID)
	req, err := scanRequest(row)
	if err != nil {
		return nil, err
	}

	if !edgeLegal(req.State, to) {
		s.logger.Error("illegal lifecycle transition attempted",
			"request_id", requestID, "from", req.State, "to", to)
		return nil, fmt.Errorf("%w: %s -> %s", contracts.ErrIllegalTransition, req.State, to)
	}

	from := req.State
	req.State = to
	if apply != nil {
		apply(req)
	}
	req.State = to // apply must not override the edge

	_, err = tx.ExecContext(ctx, `
		UPDATE requests SET
			state = ?, attempt_count = ?, last_error = ?, last_attempt_at = ?,
			next_eligible = ?, prepared_code = ?, prepared_confidence = ?
		WHERE request_id = ?`,
		string(req.State), req.AttemptCount, req.LastError, fmtTime(req.LastAttempt),
		fmtTime(req.NextEligible), req.PreparedCode, req.PreparedConfidence, requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", requestID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("request transitioned", "request_id", requestID, "from", from, "to", to)
	return req, nil
}

// ClearBackoff makes a waiting request immediately eligible. Operator action;
// it does not touch the attempt count or state.
func (s *LifecycleStore) ClearBackoff(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET next_eligible = '' WHERE request_id = ? AND state = ?`,
		requestID, string(contracts.StateWaitingRetry))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: no waiting request %s", contracts.ErrNotFound, requestID)
	}
	return nil
}

// SetPrepared caches staged resolution code on the request without a state
// transition.
func (s *LifecycleStore) SetPrepared(ctx context.Context, requestID, code, confidence string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET prepared_code = ?, prepared_confidence = ? WHERE request_id = ?`,
		code, confidence, requestID)
	return err
}

const selectRequest = `
	SELECT request_id, identifier, ancillary_data, request_timestamp,
	       earliest_resolve_time, deadline, state, attempt_count, last_error,
	       last_attempt_at, next_eligible, prepared_code, prepared_confidence
	FROM requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*contracts.Request, error) {
	var (
		req                                                  contracts.Request
		state                                                string
		reqTS, earliest, deadline, lastAttempt, nextEligible string
	)
	err := row.Scan(&req.ID, &req.Identifier, &req.AncillaryData, &reqTS,
		&earliest, &deadline, &state, &req.AttemptCount, &req.LastError,
		&lastAttempt, &nextEligible, &req.PreparedCode, &req.PreparedConfidence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrNotFound
		}
		return nil, err
	}
	req.State = contracts.RequestState(state)
	req.RequestTimestamp = parseTime(reqTS)
	req.EarliestResolveTime = parseTime(earliest)
	req.Deadline = parseTime(deadline)
	req.LastAttempt = parseTime(lastAttempt)
	req.NextEligible = parseTime(nextEligible)
	return &req, nil
}

func collectRequests(rows *sql.Rows) ([]*contracts.Request, error) {
	var out []*contracts.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
