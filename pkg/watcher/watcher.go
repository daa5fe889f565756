// Package watcher mirrors the chain's outstanding requests into the local
// lifecycle store. It is the only component that talks to the request source;
// the scheduler works purely off the store.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/subjective-labs/resolver/pkg/chain"
	"github.com/subjective-labs/resolver/pkg/contracts"
	"github.com/subjective-labs/resolver/pkg/dedupe"
	"github.com/subjective-labs/resolver/pkg/store"
)

// Preparer stages resolution code ahead of the resolve window. Satisfied by
// *executor.Executor.
type Preparer interface {
	PrepareScript(ctx context.Context, req *contracts.Request) (code, confidence string, err error)
}

type Watcher struct {
	source chain.RequestSource
	store  *store.LifecycleStore
	recent dedupe.Cache

	// preparer is optional; without it requests pay generation latency at
	// dispatch time.
	preparer Preparer

	limiter          *rate.Limiter
	interval         time.Duration
	livenessDelay    time.Duration
	resolutionWindow time.Duration
	logger           *slog.Logger
}

type Options struct {
	PollInterval     time.Duration
	LivenessDelay    time.Duration
	ResolutionWindow time.Duration
	Preparer         Preparer
	Recent           dedupe.Cache
}

func New(source chain.RequestSource, st *store.LifecycleStore, opts Options) *Watcher {
	if opts.Recent == nil {
		opts.Recent = dedupe.NewMemory()
	}
	return &Watcher{
		source:   source,
		store:    st,
		recent:   opts.Recent,
		preparer: opts.Preparer,
		// One poll per interval on average, small burst for catch-up after a
		// stall.
		limiter:          rate.NewLimiter(rate.Every(opts.PollInterval), 2),
		interval:         opts.PollInterval,
		livenessDelay:    opts.LivenessDelay,
		resolutionWindow: opts.ResolutionWindow,
		logger:           slog.Default().With("component", "watcher"),
	}
}

// Run polls until ctx is cancelled. Each cycle is independent; a failed poll
// is logged and the next tick tries again.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		if err := w.Poll(ctx); err != nil {
			w.logger.Warn("poll failed", "error", err)
		}
	}
}

// Poll runs one sync cycle: ingest unseen requests and reconcile externally
// settled ones.
func (w *Watcher) Poll(ctx context.Context) error {
	views, err := w.source.ListOutstanding(ctx)
	if err != nil {
		return err
	}

	for _, v := range views {
		if v.Settled {
			w.reconcileSettled(ctx, v.ID)
			continue
		}
		if recent, _ := w.recent.RecentlySettled(ctx, v.ID); recent {
			// Our own settlement has not propagated to the chain view yet.
			continue
		}
		w.ingest(ctx, v)
	}

	return w.reconcileActive(ctx)
}

func (w *Watcher) ingest(ctx context.Context, v contracts.RequestView) {
	req := &contracts.Request{
		ID:                  v.ID,
		Identifier:          v.Identifier,
		AncillaryData:       v.AncillaryData,
		RequestTimestamp:    v.RequestTimestamp,
		EarliestResolveTime: v.RequestTimestamp.Add(w.livenessDelay),
		Deadline:            v.RequestTimestamp.Add(w.resolutionWindow),
		State:               contracts.StateScheduled,
	}
	if err := w.store.Track(ctx, req); err != nil {
		w.logger.Warn("track failed", "request_id", v.ID, "error", err)
		return
	}

	w.maybePrepare(ctx, req.ID)
}

// maybePrepare stages generated code for a scheduled request whose window has
// not opened yet. Best effort: a failed staging just means dispatch generates
// on the spot.
func (w *Watcher) maybePrepare(ctx context.Context, requestID string) {
	if w.preparer == nil {
		return
	}
	req, err := w.store.Get(ctx, requestID)
	if err != nil || req.State != contracts.StateScheduled || req.PreparedCode != "" {
		return
	}
	if !time.Now().Before(req.EarliestResolveTime) {
		return
	}

	code, confidence, err := w.preparer.PrepareScript(ctx, req)
	if err != nil {
		w.logger.Warn("script staging failed", "request_id", requestID, "error", err)
		return
	}
	if err := w.store.SetPrepared(ctx, requestID, code, confidence); err != nil {
		w.logger.Warn("staged script not saved", "request_id", requestID, "error", err)
		return
	}
	w.logger.Info("script staged", "request_id", requestID, "confidence", confidence)
}

// reconcileSettled moves a locally active request that the chain reports as
// settled into the external terminal state.
func (w *Watcher) reconcileSettled(ctx context.Context, requestID string) {
	req, err := w.store.Get(ctx, requestID)
	if err != nil || req.State.Terminal() {
		return
	}
	if _, err := w.store.Transition(ctx, requestID, contracts.StateFinalizedExternal, nil); err != nil {
		w.logger.Warn("external reconcile failed", "request_id", requestID, "error", err)
		return
	}
	w.logger.Info("request settled externally", "request_id", requestID, "from", req.State)
}

// reconcileActive cross-checks locally active requests against the chain, so
// a request that dropped out of ListOutstanding still converges.
func (w *Watcher) reconcileActive(ctx context.Context) error {
	active, err := w.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, req := range active {
		if req.State != contracts.StateWaitingRetry && req.State != contracts.StateScheduled {
			continue
		}
		settled, err := w.source.IsSettled(ctx, req.ID)
		if err != nil {
			continue
		}
		if settled {
			w.reconcileSettled(ctx, req.ID)
		}
	}
	return nil
}
