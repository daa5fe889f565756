package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledWithoutEndpoint(t *testing.T) {
	p, err := New(context.Background(), Config{ServiceName: "resolver-test"})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())

	// Instruments must be usable even with export disabled.
	ctx := context.Background()
	p.RecordDispatch(ctx, "YES_OR_NO_QUERY")
	p.RecordAttempt(ctx, 2*time.Second, "true")
	p.RecordSettlement(ctx, "confirmed")

	assert.NoError(t, p.Shutdown(ctx))
}
