package clockanchor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

type fakeSource struct {
	t     time.Time
	proof string
	err   error
}

func (f *fakeSource) FetchTime(context.Context) (time.Time, string, error) {
	return f.t, f.proof, f.err
}

func TestAnchor_CorrectsDrift(t *testing.T) {
	local := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	authoritative := local.Add(42 * time.Second)

	a := New(&fakeSource{t: authoritative, proof: "att-1"}, time.Minute)
	a.local = func() time.Time { return local }

	require.NoError(t, a.Sync(context.Background()))

	now, age, err := a.Now()
	require.NoError(t, err)
	assert.Equal(t, authoritative, now)
	assert.Equal(t, time.Duration(0), age)
	assert.Equal(t, "att-1", a.Proof())
}

// TestAnchor_FailsClosedWhenNeverSynced: gating on an unsynced anchor must
// report stale, never a raw local time.
func TestAnchor_FailsClosedWhenNeverSynced(t *testing.T) {
	a := New(&fakeSource{err: fmt.Errorf("down")}, time.Minute)
	_, _, err := a.Now()
	assert.ErrorIs(t, err, contracts.ErrStaleAnchor)
}

func TestAnchor_SyncFailureKeepsPreviousOffsetUntilStale(t *testing.T) {
	local := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{t: local.Add(time.Second)}

	a := New(src, time.Minute)
	a.local = func() time.Time { return local }
	require.NoError(t, a.Sync(context.Background()))

	// Source goes dark; within the staleness window Now still works.
	src.err = errors.New("unreachable")
	err := a.Sync(context.Background())
	assert.ErrorIs(t, err, contracts.ErrClockSync)

	a.local = func() time.Time { return local.Add(30 * time.Second) }
	now, age, err := a.Now()
	require.NoError(t, err)
	assert.Equal(t, local.Add(31*time.Second), now)
	assert.Equal(t, 30*time.Second, age)

	// Past the threshold the anchor fails closed.
	a.local = func() time.Time { return local.Add(2 * time.Minute) }
	_, _, err = a.Now()
	assert.ErrorIs(t, err, contracts.ErrStaleAnchor)
}

func TestHTTPSource_FetchTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unix_ms": 1700000000123, "proof": "sig"}`)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL)
	got, proof, err := src.FetchTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), got)
	assert.Equal(t, "sig", proof)
}

func TestHTTPSource_RejectsZeroTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"proof": "sig"}`)
	}))
	defer srv.Close()

	_, _, err := NewHTTPSource(srv.URL).FetchTime(context.Background())
	assert.Error(t, err)
}
