package clockanchor

import "github.com/subjective-labs/resolver/pkg/contracts"

// Aliases into the shared taxonomy so callers can errors.Is against either
// package.
var (
	ErrSync  = contracts.ErrClockSync
	ErrStale = contracts.ErrStaleAnchor
)
