package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subjective-labs/resolver/pkg/chain"
	"github.com/subjective-labs/resolver/pkg/contracts"
	"github.com/subjective-labs/resolver/pkg/dedupe"
	"github.com/subjective-labs/resolver/pkg/evidence"
	"github.com/subjective-labs/resolver/pkg/store"
)

type fakeChain struct {
	settled    bool
	settledSeq []bool
	settledErr error
	submitErr  error
	submits    int
	statuses   []chain.TxStatus
	statusIdx  int
}

func (f *fakeChain) ListOutstanding(context.Context) ([]contracts.RequestView, error) {
	return nil, nil
}

func (f *fakeChain) IsSettled(context.Context, string) (bool, error) {
	if len(f.settledSeq) > 0 {
		v := f.settledSeq[0]
		f.settledSeq = f.settledSeq[1:]
		return v, f.settledErr
	}
	return f.settled, f.settledErr
}

func (f *fakeChain) SubmitSettlement(context.Context, string, int64, string) (string, error) {
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "0xtxabc", nil
}

func (f *fakeChain) TransactionStatus(context.Context, string) (chain.TxStatus, error) {
	if f.statusIdx >= len(f.statuses) {
		return chain.TxPending, nil
	}
	s := f.statuses[f.statusIdx]
	f.statusIdx++
	return s, nil
}

var testSecret = []byte("unit-test-secret")

func newSubmitter(t *testing.T, c chain.Client) (*Submitter, *store.LifecycleStore, *evidence.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ev, err := evidence.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ev.Close() })

	token, err := MintToken(testSecret, time.Hour)
	require.NoError(t, err)
	auth := NewAuthorizer(token, testSecret)

	return New(c, st, ev, auth, dedupe.NewMemory(), 5*time.Millisecond, 200*time.Millisecond), st, ev
}

func testBundle(id string) *contracts.EvidenceBundle {
	return &contracts.EvidenceBundle{
		RequestID:  id,
		Identifier: "YES_OR_NO_QUERY",
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
		Outcome:    contracts.OutcomeTrue,
		Reason:     "observed above threshold",
		Price:      1,
	}
}

func TestSettle_SubmitsAndConfirms(t *testing.T) {
	c := &fakeChain{statuses: []chain.TxStatus{chain.TxPending, chain.TxMined}}
	sub, st, ev := newSubmitter(t, c)
	req := &contracts.Request{ID: "0x01"}

	rec, err := sub.Settle(context.Background(), req, testBundle("0x01"))
	require.NoError(t, err)
	assert.Equal(t, "0xtxabc", rec.TxHash)
	assert.Equal(t, contracts.ConfirmationConfirmed, rec.State)
	assert.Equal(t, 1, c.submits)

	stored, err := st.GetSettlement(context.Background(), "0x01")
	require.NoError(t, err)
	assert.Equal(t, contracts.ConfirmationConfirmed, stored.State)
	assert.Equal(t, "0xtxabc", stored.TxHash)

	bundle, _, err := ev.Get(context.Background(), "0x01")
	require.NoError(t, err)
	assert.Equal(t, "0xtxabc", bundle.TxHash)
}

// Invariant: re-entering Settle after a crash resumes the recorded tx and
// never submits a second transaction for the same request.
func TestSettle_ResumesRecordedTx(t *testing.T) {
	c := &fakeChain{statuses: []chain.TxStatus{chain.TxMined, chain.TxMined}}
	sub, _, _ := newSubmitter(t, c)
	req := &contracts.Request{ID: "0x02"}

	_, err := sub.Settle(context.Background(), req, testBundle("0x02"))
	require.NoError(t, err)
	require.Equal(t, 1, c.submits)

	_, err = sub.Settle(context.Background(), req, testBundle("0x02"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.submits)
}

func TestSettle_AlreadySettledOnRecheck(t *testing.T) {
	c := &fakeChain{settled: true}
	sub, _, _ := newSubmitter(t, c)

	_, err := sub.Settle(context.Background(), &contracts.Request{ID: "0x03"}, testBundle("0x03"))
	require.ErrorIs(t, err, contracts.ErrAlreadySettled)
	assert.Equal(t, 0, c.submits)
}

func TestSettle_AlreadySettledOnSubmit(t *testing.T) {
	c := &fakeChain{submitErr: contracts.ErrAlreadySettled}
	sub, _, _ := newSubmitter(t, c)

	_, err := sub.Settle(context.Background(), &contracts.Request{ID: "0x04"}, testBundle("0x04"))
	require.ErrorIs(t, err, contracts.ErrAlreadySettled)
	assert.Equal(t, contracts.FailureRace, contracts.ClassOf(err))
}

func TestSettle_RevertWithExternalWinner(t *testing.T) {
	// Not settled at the pre-submit check, settled by the time our tx reverts:
	// the other resolver's transaction mined first.
	c := &fakeChain{
		settledSeq: []bool{false, true},
		statuses:   []chain.TxStatus{chain.TxReverted},
	}
	sub, _, _ := newSubmitter(t, c)

	_, err := sub.Settle(context.Background(), &contracts.Request{ID: "0x05"}, testBundle("0x05"))
	require.ErrorIs(t, err, contracts.ErrAlreadySettled)
}

func TestSettle_RevertWithoutWinnerIsPermanent(t *testing.T) {
	c := &fakeChain{statuses: []chain.TxStatus{chain.TxReverted}}
	sub, st, _ := newSubmitter(t, c)

	_, err := sub.Settle(context.Background(), &contracts.Request{ID: "0x08"}, testBundle("0x08"))
	require.Error(t, err)
	assert.Equal(t, contracts.FailurePermanent, contracts.ClassOf(err))

	rec, err := st.GetSettlement(context.Background(), "0x08")
	require.NoError(t, err)
	assert.Equal(t, contracts.ConfirmationFailed, rec.State)
}

func TestSettle_ConfirmationTimeoutIsTransient(t *testing.T) {
	c := &fakeChain{} // always pending
	sub, _, _ := newSubmitter(t, c)

	rec, err := sub.Settle(context.Background(), &contracts.Request{ID: "0x06"}, testBundle("0x06"))
	require.Error(t, err)
	assert.Equal(t, contracts.FailureTransient, contracts.ClassOf(err))
	require.NotNil(t, rec)
	assert.Equal(t, contracts.ConfirmationPending, rec.State)
}

func TestSettle_BadTokenIsUnauthorized(t *testing.T) {
	c := &fakeChain{}
	sub, _, _ := newSubmitter(t, c)
	sub.auth = NewAuthorizer("not-a-jwt", testSecret)

	_, err := sub.Settle(context.Background(), &contracts.Request{ID: "0x07"}, testBundle("0x07"))
	require.ErrorIs(t, err, contracts.ErrUnauthorizedSigner)
	assert.Equal(t, 0, c.submits)
}

func TestAuthorizer(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		token, err := MintToken(testSecret, time.Hour)
		require.NoError(t, err)
		assert.NoError(t, NewAuthorizer(token, testSecret).Authorize())
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := MintToken([]byte("other"), time.Hour)
		require.NoError(t, err)
		err = NewAuthorizer(token, testSecret).Authorize()
		require.ErrorIs(t, err, contracts.ErrUnauthorizedSigner)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := MintToken(testSecret, -time.Minute)
		require.NoError(t, err)
		err = NewAuthorizer(token, testSecret).Authorize()
		require.ErrorIs(t, err, contracts.ErrUnauthorizedSigner)
	})

	t.Run("missing token", func(t *testing.T) {
		err := NewAuthorizer("", testSecret).Authorize()
		require.True(t, errors.Is(err, contracts.ErrUnauthorizedSigner))
	})
}
