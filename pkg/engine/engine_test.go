package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subjective-labs/resolver/pkg/chain"
	"github.com/subjective-labs/resolver/pkg/clockanchor"
	"github.com/subjective-labs/resolver/pkg/contracts"
	"github.com/subjective-labs/resolver/pkg/dedupe"
	"github.com/subjective-labs/resolver/pkg/evidence"
	"github.com/subjective-labs/resolver/pkg/executor"
	"github.com/subjective-labs/resolver/pkg/sandbox"
	"github.com/subjective-labs/resolver/pkg/scheduler"
	"github.com/subjective-labs/resolver/pkg/settlement"
	"github.com/subjective-labs/resolver/pkg/store"
	"github.com/subjective-labs/resolver/pkg/verifier"
	"github.com/subjective-labs/resolver/pkg/watcher"
)

// gatewayFake is an in-memory chain: request source and settlement sink.
type gatewayFake struct {
	views   []contracts.RequestView
	settled map[string]bool
	submits int
}

func (g *gatewayFake) ListOutstanding(context.Context) ([]contracts.RequestView, error) {
	return g.views, nil
}

func (g *gatewayFake) IsSettled(_ context.Context, id string) (bool, error) {
	return g.settled[id], nil
}

func (g *gatewayFake) SubmitSettlement(_ context.Context, id string, _ int64, _ string) (string, error) {
	if g.settled[id] {
		return "", contracts.ErrAlreadySettled
	}
	g.submits++
	g.settled[id] = true
	return "0xtx-" + id, nil
}

func (g *gatewayFake) TransactionStatus(context.Context, string) (chain.TxStatus, error) {
	return chain.TxMined, nil
}

type timeSourceFake struct{ now time.Time }

func (t *timeSourceFake) FetchTime(context.Context) (time.Time, string, error) {
	return t.now, "signed-proof", nil
}

// sandboxFake answers every execution with a fixed resolution payload.
type sandboxFake struct{ stdout string }

func (s *sandboxFake) Execute(context.Context, sandbox.Job) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{Stdout: s.stdout}, nil
}

type genFake struct{}

func (genFake) Generate(context.Context, string) (string, error) {
	return "import json\n\ndef resolve_oracle():\n    return {\"decision\": \"true\"}\n\nif __name__ == \"__main__\":\n    print(json.dumps(resolve_oracle()))\n", nil
}

type harness struct {
	eng     *Engine
	gateway *gatewayFake
	store   *store.LifecycleStore
	anchor  *clockanchor.Anchor
	watcher *watcher.Watcher
	sched   *scheduler.Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ev, err := evidence.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ev.Close() })

	gateway := &gatewayFake{settled: map[string]bool{}}

	anchor := clockanchor.New(&timeSourceFake{now: time.Now().UTC()}, time.Hour)
	require.NoError(t, anchor.Sync(ctx))

	exec := executor.New(
		&sandboxFake{stdout: `{"decision": "true", "reason": "observed 110570", "sources": ["https://api.example.com/price"], "data": {"observed": 110570.0}}`},
		nil,
		genFake{},
		nil,
		ev,
		time.Minute,
	)

	ver, err := verifier.New()
	require.NoError(t, err)

	token, err := settlement.MintToken([]byte("secret"), time.Hour)
	require.NoError(t, err)
	settler := settlement.New(gateway, st, ev,
		settlement.NewAuthorizer(token, []byte("secret")),
		dedupe.NewMemory(), time.Millisecond, time.Second)

	sched := scheduler.New(st, anchor, exec, ver, settler, scheduler.Options{
		MaxAttempts: 3,
		MaxWorkers:  2,
		Tick:        time.Millisecond,
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
	})

	w := watcher.New(gateway, st, watcher.Options{
		PollInterval:     time.Second,
		LivenessDelay:    time.Millisecond,
		ResolutionWindow: time.Hour,
	})

	eng := New(Components{
		Store:          st,
		Evidence:       ev,
		Anchor:         anchor,
		Watcher:        w,
		Scheduler:      sched,
		Settler:        settler,
		ClockSyncEvery: time.Minute,
	})
	return &harness{eng: eng, gateway: gateway, store: st, anchor: anchor, watcher: w, sched: sched}
}

func outstanding(id string) contracts.RequestView {
	return contracts.RequestView{
		ID:               id,
		Identifier:       "YES_OR_NO_QUERY",
		AncillaryData:    []byte("q: Will BTC be above 110570.00 USD? source: https://api.example.com/price"),
		RequestTimestamp: time.Now().UTC().Add(-time.Minute),
	}
}

// The full pipeline: an outstanding request is watched in, resolved in the
// sandbox, verified, settled on-chain, and its evidence bundle carries the tx
// hash and anchor proof.
func TestEndToEnd_ResolveAndSettle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.views = []contracts.RequestView{outstanding("0xe2e")}

	require.NoError(t, h.watcher.Poll(ctx))
	require.NoError(t, h.sched.Cycle(ctx))
	h.sched.Drain()

	req, rec, err := h.eng.Status(ctx, "0xe2e")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFinalizedSettled, req.State)
	require.NotNil(t, rec)
	assert.Equal(t, contracts.ConfirmationConfirmed, rec.State)
	assert.Equal(t, "0xtx-0xe2e", rec.TxHash)
	assert.Equal(t, 1, h.gateway.submits)

	bundle, hash, err := h.eng.Evidence(ctx, "0xe2e")
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeTrue, bundle.Outcome)
	assert.Equal(t, int64(1), bundle.Price)
	assert.Equal(t, "signed-proof", bundle.AnchorProof)
	assert.Equal(t, "0xtx-0xe2e", bundle.TxHash)
	assert.NotEmpty(t, hash)

	// A later cycle must not touch the finalized request.
	require.NoError(t, h.sched.Cycle(ctx))
	h.sched.Drain()
	assert.Equal(t, 1, h.gateway.submits)
}

// Invariant: when another resolver settles first, the local request finalizes
// as external and no second settlement is submitted.
func TestEndToEnd_ExternalSettlementWinsRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.views = []contracts.RequestView{outstanding("0xrace")}

	require.NoError(t, h.watcher.Poll(ctx))
	h.gateway.settled["0xrace"] = true // the other resolver lands first

	require.NoError(t, h.sched.Cycle(ctx))
	h.sched.Drain()

	req, _, err := h.eng.Status(ctx, "0xrace")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFinalizedExternal, req.State)
	assert.Equal(t, 0, h.gateway.submits)
}

func TestOverride_SettlesWithOperatorOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.views = []contracts.RequestView{outstanding("0xovr")}
	require.NoError(t, h.watcher.Poll(ctx))

	err := h.eng.Override(ctx, "0xovr", contracts.OutcomeFalse, "source published a correction")
	require.NoError(t, err)

	req, rec, err := h.eng.Status(ctx, "0xovr")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFinalizedSettled, req.State)
	require.NotNil(t, rec)
	assert.Equal(t, int64(0), rec.SubmittedPrice)

	bundle, _, err := h.eng.Evidence(ctx, "0xovr")
	require.NoError(t, err)
	assert.True(t, bundle.Override)
	assert.Equal(t, "source published a correction", bundle.OverrideReason)
	assert.Equal(t, contracts.OutcomeFalse, bundle.Outcome)
}

// When the chain already holds an answer, an override cannot land; the record
// converges to the external verdict instead of staying active.
func TestOverride_ExternalSettlementConverges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.views = []contracts.RequestView{outstanding("0xext")}
	require.NoError(t, h.watcher.Poll(ctx))

	h.gateway.settled["0xext"] = true // another resolver lands first

	err := h.eng.Override(ctx, "0xext", contracts.OutcomeTrue, "operator call")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already settled")

	req, _, err := h.eng.Status(ctx, "0xext")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFinalizedExternal, req.State)
	assert.Equal(t, 0, h.gateway.submits)
}

func TestOverride_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.views = []contracts.RequestView{outstanding("0xv")}
	require.NoError(t, h.watcher.Poll(ctx))

	require.Error(t, h.eng.Override(ctx, "0xv", "maybe", "reason"))
	require.Error(t, h.eng.Override(ctx, "0xv", contracts.OutcomeTrue, ""))

	require.NoError(t, h.eng.Override(ctx, "0xv", contracts.OutcomeTrue, "ok"))
	// Terminal requests cannot be overridden again.
	err := h.eng.Override(ctx, "0xv", contracts.OutcomeFalse, "changed my mind")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finalized")
}

func TestForceRetry_ClearsBackoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.views = []contracts.RequestView{outstanding("0xfr")}
	require.NoError(t, h.watcher.Poll(ctx))

	// Park the request with a long backoff.
	_, err := h.store.Transition(ctx, "0xfr", contracts.StateResolving, nil)
	require.NoError(t, err)
	_, err = h.store.Transition(ctx, "0xfr", contracts.StateWaitingRetry, func(r *contracts.Request) {
		r.NextEligible = time.Now().Add(time.Hour)
	})
	require.NoError(t, err)

	require.NoError(t, h.eng.ForceRetry(ctx, "0xfr"))
	require.NoError(t, h.sched.Cycle(ctx))
	h.sched.Drain()

	req, _, err := h.eng.Status(ctx, "0xfr")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFinalizedSettled, req.State)

	// ForceRetry only applies to waiting requests.
	require.Error(t, h.eng.ForceRetry(ctx, "0xfr"))
}
