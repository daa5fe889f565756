// Package evidence persists evidence bundles: the immutable audit record of
// every accepted (or operator-overridden) resolution, plus debug transcripts
// of failed attempts. Bundles are write-once; only the settlement tx hash may
// be appended, and only once.
package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

// ErrImmutable is returned on any attempt to rewrite an existing bundle.
var ErrImmutable = errors.New("evidence bundle is immutable")

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open evidence db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return New(db)
}

func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS evidence (
		request_id TEXT PRIMARY KEY,
		bundle JSON NOT NULL,
		bundle_hash TEXT NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS debug_artifacts (
		request_id TEXT NOT NULL,
		attempt_id TEXT NOT NULL,
		code TEXT NOT NULL,
		stdout TEXT NOT NULL,
		stderr TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (request_id, attempt_id)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Put persists a bundle. A second Put for the same request id fails with
// ErrImmutable: a partial or corrupted bundle must never replace an accepted
// one.
func (s *Store) Put(ctx context.Context, bundle *contracts.EvidenceBundle) (string, error) {
	hash, err := CanonicalHash(bundle)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (request_id, bundle, bundle_hash, tx_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING`,
		bundle.RequestID, string(raw), hash, bundle.TxHash,
		bundle.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("put evidence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("%w: %s", ErrImmutable, bundle.RequestID)
	}
	return hash, nil
}

// Get returns the stored bundle and its canonical hash.
func (s *Store) Get(ctx context.Context, requestID string) (*contracts.EvidenceBundle, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bundle, bundle_hash, tx_hash FROM evidence WHERE request_id = ?`, requestID)

	var raw, hash, txHash string
	if err := row.Scan(&raw, &hash, &txHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", contracts.ErrNotFound
		}
		return nil, "", err
	}

	var bundle contracts.EvidenceBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, "", fmt.Errorf("decode evidence: %w", err)
	}
	bundle.TxHash = txHash
	return &bundle, hash, nil
}

// SetTxHash appends the settlement transaction hash to an existing bundle.
// At most once: a differing second write is rejected.
func (s *Store) SetTxHash(ctx context.Context, requestID, txHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence SET tx_hash = ? WHERE request_id = ? AND (tx_hash = '' OR tx_hash = ?)`,
		txHash, requestID, txHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, _, err := s.Get(ctx, requestID); errors.Is(err, contracts.ErrNotFound) {
			return contracts.ErrNotFound
		}
		return fmt.Errorf("%w: tx hash already set for %s", ErrImmutable, requestID)
	}
	return nil
}

// PutDebug stores the transcript of a failed attempt for later inspection.
// Best-effort from the caller's perspective; failure to store debug output is
// never allowed to fail the attempt itself.
func (s *Store) PutDebug(ctx context.Context, attempt *contracts.Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO debug_artifacts (request_id, attempt_id, code, stdout, stderr, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id, attempt_id) DO NOTHING`,
		attempt.RequestID, attempt.ID, attempt.GeneratedCode,
		attempt.Stdout, attempt.Stderr,
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}
