// Package clockanchor maintains a drift-corrected time estimate independent
// of the local wall clock. All scheduling comparisons in the engine go through
// Anchor.Now(); raw time.Now() is never authoritative for gating.
package clockanchor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TimeSource is the authoritative time collaborator. The proof is an opaque
// attestation of the source (e.g. a signed roughtime-style response) carried
// into evidence bundles.
type TimeSource interface {
	FetchTime(ctx context.Context) (time.Time, string, error)
}

// Anchor holds the current offset between local and authoritative time.
// Process-wide; refreshed on a fixed interval.
type Anchor struct {
	mu        sync.RWMutex
	offset    time.Duration
	syncedAt  time.Time
	proof     string
	staleness time.Duration
	source    TimeSource
	logger    *slog.Logger

	// local is injectable for tests; defaults to time.Now.
	local func() time.Time
}

// New creates an Anchor. staleness is the maximum age of the last successful
// sync before gating decisions fail closed.
func New(source TimeSource, staleness time.Duration) *Anchor {
	return &Anchor{
		staleness: staleness,
		source:    source,
		logger:    slog.Default().With("component", "clockanchor"),
		local:     time.Now,
	}
}

// Sync fetches authoritative time and records the offset. On failure the
// previous offset remains valid until the staleness threshold passes.
func (a *Anchor) Sync(ctx context.Context) error {
	authoritative, proof, err := a.source.FetchTime(ctx)
	if err != nil {
		a.logger.Warn("time sync failed, keeping previous offset", "error", err)
		return fmt.Errorf("%w: %v", ErrSync, err)
	}

	local := a.local()
	a.mu.Lock()
	a.offset = authoritative.Sub(local)
	a.syncedAt = local
	a.proof = proof
	a.mu.Unlock()

	a.logger.Debug("clock anchored", "offset", authoritative.Sub(local), "proof_len", len(proof))
	return nil
}

// Run refreshes the anchor on the given interval until ctx is done. The
// initial sync happens immediately.
func (a *Anchor) Run(ctx context.Context, every time.Duration) {
	_ = a.Sync(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = a.Sync(ctx)
		}
	}
}

// Now returns corrected time plus the age of the last successful sync.
// ErrStale is returned once the anchor is older than the staleness threshold;
// callers must treat that as "not yet eligible", never as eligible.
func (a *Anchor) Now() (time.Time, time.Duration, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.syncedAt.IsZero() {
		return time.Time{}, 0, fmt.Errorf("%w: never synced", ErrStale)
	}
	age := a.local().Sub(a.syncedAt)
	if age > a.staleness {
		return time.Time{}, age, fmt.Errorf("%w: last sync %s ago", ErrStale, age.Round(time.Second))
	}
	return a.local().Add(a.offset), age, nil
}

// Proof returns the attestation from the last successful sync.
func (a *Anchor) Proof() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proof
}
