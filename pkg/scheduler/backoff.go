package scheduler

import (
	"math/rand"
	"time"
)

// nextBackoff returns the delay before attempt n+1 after n failed attempts:
// exponential from base, with up to 25% added jitter so a fleet of requests
// failing together does not retry together. The returned delay never exceeds
// max, jitter included.
func nextBackoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	if d > max {
		d = max
	}
	return d
}
