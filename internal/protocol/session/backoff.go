package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the reconnect delay before attempt n (1-based).
// Jitter keeps the delay in [d/2, d] where d is the capped exponential step;
// a nil rng disables it.
func NextBackoffDelay(cfg BackoffConfig, n int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	step := math.Max(cfg.Multiplier, 1)
	d := float64(cfg.InitialDelay)
	if n > 1 {
		d *= math.Pow(step, float64(n-1))
	}
	if cfg.MaxDelay > 0 {
		d = math.Min(d, float64(cfg.MaxDelay))
	}
	if cfg.Jitter && rng != nil {
		d = d/2 + rng.Float64()*d/2
	}
	return time.Duration(d)
}
