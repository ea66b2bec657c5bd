package dispatch

import (
	"math/rand"
	"time"
)

const (
	backoffBase   = time.Second
	backoffCap    = 30 * time.Second
	backoffJitter = 0.2
)

// backoffDelay returns base × 2^attempt capped at backoffCap, with ±20%
// jitter so retry storms from concurrent workers spread out.
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase
	for i := 0; i < attempt && delay < backoffCap; i++ {
		delay *= 2
	}
	if delay > backoffCap {
		delay = backoffCap
	}

	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(float64(delay) * jitter)
}
