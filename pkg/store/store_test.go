package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

func openTestStore(t *testing.T) *LifecycleStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRequest(id string) *contracts.Request {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return &contracts.Request{
		ID:                  id,
		Identifier:          "YES_OR_NO_QUERY",
		AncillaryData:       []byte("q: Did the policy rate change by more than 25bps?"),
		RequestTimestamp:    base,
		EarliestResolveTime: base.Add(5 * time.Minute),
		Deadline:            base.Add(time.Hour),
	}
}

func TestTrack_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	req := testRequest("0x01")

	require.NoError(t, s.Track(ctx, req))
	// Move it forward, then re-track: the local state must survive.
	_, err := s.Transition(ctx, req.ID, contracts.StateResolving, nil)
	require.NoError(t, err)
	require.NoError(t, s.Track(ctx, req))

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateResolving, got.State)
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

// TestTransition_LegalPath walks the happy path end to end:
// scheduled → resolving → finalized/settled.
func TestTransition_LegalPath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	req := testRequest("0x02")
	require.NoError(t, s.Track(ctx, req))

	got, err := s.Transition(ctx, req.ID, contracts.StateResolving, func(r *contracts.Request) {
		r.AttemptCount++
		r.LastAttempt = time.Now().UTC()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptCount)

	got, err = s.Transition(ctx, req.ID, contracts.StateFinalizedSettled, nil)
	require.NoError(t, err)
	assert.True(t, got.State.Terminal())
}

// TestTransition_RetryLoop exercises resolving → waiting_retry → resolving
// with the persisted attempt counter surviving a reopen.
func TestTransition_RetryLoop(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir + "/lifecycle.db")
	require.NoError(t, err)
	ctx := context.Background()

	req := testRequest("0x03")
	require.NoError(t, s.Track(ctx, req))

	_, err = s.Transition(ctx, req.ID, contracts.StateResolving, func(r *contracts.Request) { r.AttemptCount++ })
	require.NoError(t, err)
	retryAt := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
	_, err = s.Transition(ctx, req.ID, contracts.StateWaitingRetry, func(r *contracts.Request) {
		r.LastError = "sandbox unavailable"
		r.NextEligible = retryAt
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopen: retry/backoff state must resume, not reset.
	s, err = Open(dir + "/lifecycle.db")
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateWaitingRetry, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "sandbox unavailable", got.LastError)
	assert.Equal(t, retryAt, got.NextEligible)
}

func TestTransition_IllegalEdgesRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	illegal := []struct {
		name string
		path []contracts.RequestState
	}{
		{"scheduled to settled", []contracts.RequestState{contracts.StateFinalizedSettled}},
		{"scheduled to waiting_retry", []contracts.RequestState{contracts.StateWaitingRetry}},
		{"settled is terminal", []contracts.RequestState{
			contracts.StateResolving, contracts.StateFinalizedSettled, contracts.StateResolving}},
		{"external is terminal", []contracts.RequestState{
			contracts.StateFinalizedExternal, contracts.StateResolving}},
	}

	for i, tc := range illegal {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequest("0xbad" + string(rune('a'+i)))
			require.NoError(t, s.Track(ctx, req))

			var err error
			for _, next := range tc.path {
				_, err = s.Transition(ctx, req.ID, next, nil)
				if err != nil {
					break
				}
			}
			assert.ErrorIs(t, err, contracts.ErrIllegalTransition)
		})
	}
}

// TestTransition_ExternalFromAnyActiveState: a request observed settled by
// another resolver finalizes from any non-terminal state.
func TestTransition_ExternalFromAnyActiveState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	paths := map[string][]contracts.RequestState{
		"0xe1": {},
		"0xe2": {contracts.StateResolving},
		"0xe3": {contracts.StateResolving, contracts.StateWaitingRetry},
	}
	for id, path := range paths {
		req := testRequest(id)
		require.NoError(t, s.Track(ctx, req))
		for _, next := range path {
			_, err := s.Transition(ctx, id, next, nil)
			require.NoError(t, err)
		}
		got, err := s.Transition(ctx, id, contracts.StateFinalizedExternal, nil)
		require.NoError(t, err)
		assert.Equal(t, contracts.StateFinalizedExternal, got.State)
	}
}

func TestRecordSettlement_AtMostOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &contracts.SettlementRecord{
		RequestID:      "0x05",
		TxHash:         "0xtx1",
		SubmittedPrice: 1,
		EvidenceHash:   "0xev",
		State:          contracts.ConfirmationPending,
		SubmittedAt:    time.Now().UTC(),
	}
	got, err := s.RecordSettlement(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "0xtx1", got.TxHash)

	// A second submission for the same request returns the existing record.
	dup := &contracts.SettlementRecord{RequestID: "0x05", TxHash: "0xtx2", State: contracts.ConfirmationPending}
	got, err = s.RecordSettlement(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, "0xtx1", got.TxHash)

	require.NoError(t, s.MarkSettlement(ctx, "0x05", contracts.ConfirmationConfirmed, time.Now().UTC()))
	rec, err := s.GetSettlement(ctx, "0x05")
	require.NoError(t, err)
	assert.Equal(t, contracts.ConfirmationConfirmed, rec.State)
	assert.Equal(t, "0xtx1", rec.TxHash)
}

func TestBindTxHash_WriteOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.RecordSettlement(ctx, &contracts.SettlementRecord{
		RequestID:   "0x06",
		State:       contracts.ConfirmationPending,
		SubmittedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, s.BindTxHash(ctx, "0x06", "0xtx1"))
	// Same hash again is idempotent.
	require.NoError(t, s.BindTxHash(ctx, "0x06", "0xtx1"))
	// A different hash for the same request is refused.
	err = s.BindTxHash(ctx, "0x06", "0xtx2")
	require.ErrorIs(t, err, contracts.ErrIllegalTransition)

	rec, err := s.GetSettlement(ctx, "0x06")
	require.NoError(t, err)
	assert.Equal(t, "0xtx1", rec.TxHash)

	// Unknown request surfaces as not found.
	require.ErrorIs(t, s.BindTxHash(ctx, "0xmissing", "0xtx"), contracts.ErrNotFound)
}

func TestListActive_ExcludesTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Track(ctx, testRequest("0x11")))
	require.NoError(t, s.Track(ctx, testRequest("0x12")))
	_, err := s.Transition(ctx, "0x12", contracts.StateFinalizedExternal, nil)
	require.NoError(t, err)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "0x11", active[0].ID)
}
