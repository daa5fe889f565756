// Package scheduler owns the dispatch loop: it decides when each request is
// tried, enforces single-flight per request, routes failures per their class,
// and drives accepted outcomes into settlement. Time comparisons go through
// the clock anchor and fail closed when the anchor is stale.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/subjective-labs/resolver/pkg/contracts"
	"github.com/subjective-labs/resolver/pkg/store"
)

// Resolver runs one resolution attempt. Satisfied by *executor.Executor.
type Resolver interface {
	Resolve(ctx context.Context, req *contracts.Request) (*contracts.Attempt, map[string]any, error)
}

// Verifier gates candidate outcomes. Satisfied by *verifier.Verifier.
type Verifier interface {
	Verify(req *contracts.Request, att *contracts.Attempt, payload map[string]any) error
}

// Settler submits and confirms settlements. Satisfied by *settlement.Submitter.
type Settler interface {
	Settle(ctx context.Context, req *contracts.Request, bundle *contracts.EvidenceBundle) (*contracts.SettlementRecord, error)
}

// Clock is the anchored time source. Satisfied by *clockanchor.Anchor.
type Clock interface {
	Now() (time.Time, time.Duration, error)
	Proof() string
}

// Metrics receives dispatch instrumentation. Satisfied by
// *observability.Provider.
type Metrics interface {
	RecordDispatch(ctx context.Context, identifier string)
	RecordAttempt(ctx context.Context, d time.Duration, outcome string)
	RecordSettlement(ctx context.Context, result string)
}

type nopMetrics struct{}

func (nopMetrics) RecordDispatch(context.Context, string)                {}
func (nopMetrics) RecordAttempt(context.Context, time.Duration, string) {}
func (nopMetrics) RecordSettlement(context.Context, string)             {}

type Options struct {
	MaxAttempts int
	MaxWorkers  int
	Tick        time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Metrics     Metrics
}

type Scheduler struct {
	store    *store.LifecycleStore
	clock    Clock
	resolver Resolver
	verifier Verifier
	settler  Settler
	metrics  Metrics

	// sem bounds concurrent attempts; inflight is the coordinator's
	// single-flight set, so a request running from an earlier cycle is never
	// dispatched again while its task is still up.
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	inflight map[string]struct{}

	opts   Options
	logger *slog.Logger
}

func New(st *store.LifecycleStore, clock Clock, resolver Resolver, verifier Verifier, settler Settler, opts Options) *Scheduler {
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	return &Scheduler{
		store:    st,
		clock:    clock,
		resolver: resolver,
		verifier: verifier,
		settler:  settler,
		metrics:  opts.Metrics,
		sem:      make(chan struct{}, opts.MaxWorkers),
		inflight: make(map[string]struct{}),
		opts:     opts,
		logger:   slog.Default().With("component", "scheduler"),
	}
}

// Recover returns requests left in the resolving state by a crashed process
// to the retry queue. Run once at startup, before the first cycle; nothing can
// legally be in flight at that point.
func (s *Scheduler) Recover(ctx context.Context) error {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, req := range active {
		if req.State != contracts.StateResolving {
			continue
		}
		if _, err := s.store.Transition(ctx, req.ID, contracts.StateWaitingRetry, func(r *contracts.Request) {
			r.LastError = "attempt interrupted by restart"
		}); err != nil {
			return fmt.Errorf("recover %s: %w", req.ID, err)
		}
		s.logger.Info("interrupted attempt requeued", "request_id", req.ID)
	}
	return nil
}

// Run drives dispatch cycles until ctx is cancelled, then waits for in-flight
// attempts to wind down.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Drain()
			return ctx.Err()
		case <-ticker.C:
			if err := s.Cycle(ctx); err != nil {
				s.logger.Warn("dispatch cycle failed", "error", err)
			}
		}
	}
}

// Cycle runs one dispatch pass: load active requests, pop everything whose
// eligibility time has arrived per the anchored clock, and hand those attempts
// to the worker pool. The pass never waits on attempts: a stalled sandbox run
// or a slow confirmation must not hold back other requests' timers. Requests
// that find the pool full simply stay eligible for the next tick.
func (s *Scheduler) Cycle(ctx context.Context) error {
	now, age, err := s.clock.Now()
	if err != nil {
		// Stale anchor: no dispatch decisions until a sync succeeds.
		s.logger.Warn("dispatch paused on stale clock anchor", "age", age, "error", err)
		return nil
	}

	active, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active requests: %w", err)
	}

	q := make(requestQueue, 0, len(active))
	byID := make(map[string]*contracts.Request, len(active))
	for _, req := range active {
		byID[req.ID] = req
		q = append(q, queueItem{id: req.ID, at: eligibleAt(req)})
	}
	heap.Init(&q)

	for _, id := range popEligible(&q, now) {
		if !s.claim(id) {
			continue
		}
		select {
		case s.sem <- struct{}{}:
		default:
			// Pool full; this request stays eligible for the next tick.
			s.release(id)
			return nil
		}
		req := byID[id]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer s.release(req.ID)
			s.dispatch(ctx, req, now)
		}()
	}
	return nil
}

// Drain blocks until every in-flight attempt has finished.
func (s *Scheduler) Drain() {
	s.wg.Wait()
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// eligibleAt is when the request may next be dispatched: never before the
// resolve window opens, and never before its backoff expires.
func eligibleAt(req *contracts.Request) time.Time {
	at := req.EarliestResolveTime
	if req.NextEligible.After(at) {
		at = req.NextEligible
	}
	return at
}

func (s *Scheduler) dispatch(ctx context.Context, req *contracts.Request, now time.Time) {
	if !now.Before(req.Deadline) {
		s.defaultRequest(ctx, req)
		return
	}
	if req.AttemptCount >= s.opts.MaxAttempts {
		s.defaultRequest(ctx, req)
		return
	}

	claimed, err := s.store.Transition(ctx, req.ID, contracts.StateResolving, func(r *contracts.Request) {
		r.AttemptCount++
		r.LastAttempt = now
	})
	if err != nil {
		// Lost the claim: finalized externally, or another replica got there.
		if !errors.Is(err, contracts.ErrIllegalTransition) {
			s.logger.Warn("claim failed", "request_id", req.ID, "error", err)
		}
		return
	}

	s.metrics.RecordDispatch(ctx, claimed.Identifier)
	started := time.Now()
	att, payload, err := s.resolver.Resolve(ctx, claimed)

	// The watcher may have finalized the request (settled externally) while
	// the attempt ran. The result is discarded, not submitted.
	if cur, gerr := s.store.Get(ctx, claimed.ID); gerr == nil && cur.State.Terminal() {
		s.metrics.RecordAttempt(ctx, time.Since(started), "discarded")
		s.logger.Info("attempt discarded, request finalized mid-flight",
			"request_id", claimed.ID, "state", cur.State)
		return
	}

	if err == nil {
		err = s.verifier.Verify(claimed, att, payload)
	}
	if err == nil {
		err = s.settle(ctx, claimed, att)
	}

	outcome := "error"
	if err == nil && att != nil {
		outcome = string(att.CandidateOutcome)
	}
	s.metrics.RecordAttempt(ctx, time.Since(started), outcome)

	s.finish(ctx, claimed, err)
}

// settle builds the evidence bundle for an accepted attempt and submits it.
func (s *Scheduler) settle(ctx context.Context, req *contracts.Request, att *contracts.Attempt) error {
	bundle := &contracts.EvidenceBundle{
		RequestID:   req.ID,
		Identifier:  req.Identifier,
		Ancillary:   string(req.AncillaryData),
		CreatedAt:   att.StartedAt,
		Code:        att.GeneratedCode,
		TemplateRef: att.TemplateRef,
		Stdout:      att.Stdout,
		Stderr:      att.Stderr,
		Outcome:     att.CandidateOutcome,
		Reason:      att.Reason,
		Price:       att.Price,
		Sources:     att.SourceEvidence,
		AnchorProof: s.clock.Proof(),
	}
	_, err := s.settler.Settle(ctx, req, bundle)
	if err == nil {
		s.metrics.RecordSettlement(ctx, "confirmed")
	}
	return err
}

// finish routes the attempt result onto the lifecycle per its failure class.
func (s *Scheduler) finish(ctx context.Context, req *contracts.Request, err error) {
	if err == nil {
		if _, terr := s.store.Transition(ctx, req.ID, contracts.StateFinalizedSettled, func(r *contracts.Request) {
			r.LastError = ""
		}); terr != nil {
			s.logger.Warn("settled transition failed", "request_id", req.ID, "error", terr)
		}
		return
	}

	if errors.Is(err, contracts.ErrAlreadySettled) || contracts.ClassOf(err) == contracts.FailureRace {
		if _, terr := s.store.Transition(ctx, req.ID, contracts.StateFinalizedExternal, nil); terr != nil {
			s.logger.Warn("external transition failed", "request_id", req.ID, "error", terr)
		}
		s.logger.Info("request settled externally mid-flight", "request_id", req.ID)
		return
	}

	class := contracts.ClassOf(err)
	now := time.Now()
	if anchored, _, cerr := s.clock.Now(); cerr == nil {
		now = anchored
	}
	retryAt := now.Add(nextBackoff(s.opts.BackoffBase, s.opts.BackoffMax, req.AttemptCount))
	if class == contracts.FailurePermanent {
		// Nothing automated can fix this; park until the deadline defaults it.
		retryAt = req.Deadline
	}

	updated, terr := s.store.Transition(ctx, req.ID, contracts.StateWaitingRetry, func(r *contracts.Request) {
		r.LastError = err.Error()
		r.NextEligible = retryAt
	})
	if terr != nil {
		s.logger.Warn("retry transition failed", "request_id", req.ID, "error", terr)
		return
	}
	s.logger.Info("attempt failed, retry scheduled",
		"request_id", req.ID,
		"class", class,
		"attempts", updated.AttemptCount,
		"next_eligible", retryAt.UTC().Format(time.RFC3339),
		"error", err)

	if updated.AttemptCount >= s.opts.MaxAttempts {
		s.defaultRequest(ctx, updated)
	}
}

// defaultRequest applies the default outcome: the deadline passed or the
// attempt budget is spent without an accepted result. The default settlement
// is still submitted so the chain gets an answer; if someone else already
// settled, the request finalizes externally instead.
func (s *Scheduler) defaultRequest(ctx context.Context, req *contracts.Request) {
	bundle := &contracts.EvidenceBundle{
		RequestID:   req.ID,
		Identifier:  req.Identifier,
		Ancillary:   string(req.AncillaryData),
		CreatedAt:   time.Now().UTC(),
		Outcome:     contracts.OutcomeInvalid,
		Reason:      fmt.Sprintf("defaulted after %d attempts; last error: %s", req.AttemptCount, req.LastError),
		Price:       contracts.OutcomeInvalid.Price(),
		AnchorProof: s.clock.Proof(),
	}

	_, err := s.settler.Settle(ctx, req, bundle)
	switch {
	case err == nil:
		s.metrics.RecordSettlement(ctx, "defaulted")
	case errors.Is(err, contracts.ErrAlreadySettled):
		if _, terr := s.store.Transition(ctx, req.ID, contracts.StateFinalizedExternal, nil); terr != nil {
			s.logger.Warn("external transition failed", "request_id", req.ID, "error", terr)
		}
		return
	default:
		s.logger.Warn("default settlement failed", "request_id", req.ID, "error", err)
		return
	}

	if _, terr := s.store.Transition(ctx, req.ID, contracts.StateFinalizedDefaulted, nil); terr != nil {
		s.logger.Warn("defaulted transition failed", "request_id", req.ID, "error", terr)
		return
	}
	s.logger.Info("request defaulted", "request_id", req.ID, "attempts", req.AttemptCount)
}
