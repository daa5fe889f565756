// Package engine composes the resolver: clock anchoring, chain watching,
// scheduling, and settlement behind one facade plus the operator surface the
// CLI talks to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/subjective-labs/resolver/pkg/clockanchor"
	"github.com/subjective-labs/resolver/pkg/contracts"
	"github.com/subjective-labs/resolver/pkg/evidence"
	"github.com/subjective-labs/resolver/pkg/scheduler"
	"github.com/subjective-labs/resolver/pkg/store"
	"github.com/subjective-labs/resolver/pkg/watcher"
)

// Exporter ships evidence bundles to external storage. Satisfied by
// *evidence.S3Exporter.
type Exporter interface {
	Export(ctx context.Context, bundle *contracts.EvidenceBundle) error
}

// Components are the wired collaborators. Build assembles them from config;
// tests assemble them from fakes.
type Components struct {
	Store     *store.LifecycleStore
	Evidence  *evidence.Store
	Anchor    *clockanchor.Anchor
	Watcher   *watcher.Watcher
	Scheduler *scheduler.Scheduler
	Settler   scheduler.Settler
	Exporter  Exporter

	ClockSyncEvery time.Duration
}

type Engine struct {
	c      Components
	logger *slog.Logger
}

func New(c Components) *Engine {
	return &Engine{c: c, logger: slog.Default().With("component", "engine")}
}

// Run starts the resolver loops and blocks until ctx is cancelled. The first
// clock sync runs before anything dispatches; if it fails the anchor stays
// unsynced and the scheduler fails closed until a later sync succeeds.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.c.Anchor.Sync(ctx); err != nil {
		e.logger.Warn("initial clock sync failed, dispatch gated until sync succeeds", "error", err)
	}
	if err := e.c.Scheduler.Recover(ctx); err != nil {
		return fmt.Errorf("recover interrupted requests: %w", err)
	}

	go e.c.Anchor.Run(ctx, e.c.ClockSyncEvery)
	go e.c.Watcher.Run(ctx)

	e.logger.Info("resolver running")
	err := e.c.Scheduler.Run(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Status returns the lifecycle view of a request and its settlement record,
// if one exists.
func (e *Engine) Status(ctx context.Context, requestID string) (*contracts.Request, *contracts.SettlementRecord, error) {
	req, err := e.c.Store.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	rec, err := e.c.Store.GetSettlement(ctx, requestID)
	if err != nil {
		if !errors.Is(err, contracts.ErrNotFound) {
			return nil, nil, err
		}
		rec = nil
	}
	return req, rec, nil
}

// List returns recent requests for the operator view.
func (e *Engine) List(ctx context.Context, limit int) ([]*contracts.Request, error) {
	return e.c.Store.List(ctx, limit)
}

// ForceRetry clears the backoff on a waiting request so the next cycle picks
// it up.
func (e *Engine) ForceRetry(ctx context.Context, requestID string) error {
	if err := e.c.Store.ClearBackoff(ctx, requestID); err != nil {
		return err
	}
	e.logger.Info("backoff cleared", "request_id", requestID)
	return nil
}

// Override settles a request with an operator-supplied outcome. The evidence
// bundle is marked as an override and records who asked and why; automated
// resolution for the request stops here.
func (e *Engine) Override(ctx context.Context, requestID string, outcome contracts.Outcome, reason string) error {
	if !outcome.Valid() {
		return fmt.Errorf("outcome %q is not one of true, false, invalid", outcome)
	}
	if reason == "" {
		return fmt.Errorf("an override requires a reason")
	}

	req, err := e.c.Store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.State.Terminal() {
		return fmt.Errorf("request %s already finalized as %s", requestID, req.State)
	}

	bundle := &contracts.EvidenceBundle{
		RequestID:      req.ID,
		Identifier:     req.Identifier,
		Ancillary:      string(req.AncillaryData),
		CreatedAt:      time.Now().UTC(),
		Outcome:        outcome,
		Reason:         reason,
		Price:          outcome.Price(),
		AnchorProof:    e.c.Anchor.Proof(),
		Override:       true,
		OverrideReason: reason,
	}

	if _, err := e.c.Settler.Settle(ctx, req, bundle); err != nil {
		if errors.Is(err, contracts.ErrAlreadySettled) {
			if _, terr := e.c.Store.Transition(ctx, requestID, contracts.StateFinalizedExternal, nil); terr != nil {
				return terr
			}
			e.logger.Info("override superseded by external settlement", "request_id", requestID)
			return fmt.Errorf("request %s was already settled on-chain; recorded as external", requestID)
		}
		return err
	}

	// An override from scheduled or waiting_retry has to pass through
	// resolving; both hops are legal and atomic per hop.
	if req.State != contracts.StateResolving {
		if _, err := e.c.Store.Transition(ctx, requestID, contracts.StateResolving, nil); err != nil {
			return err
		}
	}
	if _, err := e.c.Store.Transition(ctx, requestID, contracts.StateFinalizedSettled, nil); err != nil {
		return err
	}
	e.logger.Info("request settled by override", "request_id", requestID, "outcome", outcome)
	return nil
}

// Evidence returns the persisted bundle and its canonical hash.
func (e *Engine) Evidence(ctx context.Context, requestID string) (*contracts.EvidenceBundle, string, error) {
	return e.c.Evidence.Get(ctx, requestID)
}

// ExportEvidence ships the bundle to the configured external store.
func (e *Engine) ExportEvidence(ctx context.Context, requestID string) error {
	if e.c.Exporter == nil {
		return fmt.Errorf("no evidence exporter configured")
	}
	bundle, _, err := e.c.Evidence.Get(ctx, requestID)
	if err != nil {
		return err
	}
	return e.c.Exporter.Export(ctx, bundle)
}
