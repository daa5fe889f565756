package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestComputeRequestID_Deterministic verifies the id is a pure function of its
// inputs and changes when any input changes.
func TestComputeRequestID_Deterministic(t *testing.T) {
	ancillary := []byte("q: Will BTC close above 110570.00 USD?")
	id1 := ComputeRequestID("YES_OR_NO_QUERY", 1700000000, ancillary)
	id2 := ComputeRequestID("YES_OR_NO_QUERY", 1700000000, ancillary)
	require.Equal(t, id1, id2)

	assert.NotEqual(t, id1, ComputeRequestID("YES_OR_NO_QUERY", 1700000001, ancillary))
	assert.NotEqual(t, id1, ComputeRequestID("YES_OR_NO_QUERY", 1700000000, []byte("other")))
	assert.NotEqual(t, id1, ComputeRequestID("NUMERIC_QUERY", 1700000000, ancillary))
}

func TestComputeRequestID_Format(t *testing.T) {
	id := ComputeRequestID("YES_OR_NO_QUERY", 0, nil)
	assert.Len(t, id, 2+64)
	assert.Equal(t, "0x", id[:2])
}

// TestIdentifierHash_MatchesHexPassthrough verifies a pre-hashed identifier is
// used as-is when computing request ids.
func TestIdentifierHash_MatchesHexPassthrough(t *testing.T) {
	hashed := IdentifierHash("YES_OR_NO_QUERY")
	require.Len(t, hashed, 66)

	a := ComputeRequestID("YES_OR_NO_QUERY", 42, []byte("x"))
	b := ComputeRequestID(hashed, 42, []byte("x"))
	assert.Equal(t, a, b)
}

func TestOutcomePrice(t *testing.T) {
	assert.Equal(t, int64(1), OutcomeTrue.Price())
	assert.Equal(t, int64(0), OutcomeFalse.Price())
	assert.Equal(t, int64(0), OutcomeInvalid.Price())
	assert.False(t, Outcome("maybe").Valid())
	assert.True(t, OutcomeInvalid.Valid())
}
