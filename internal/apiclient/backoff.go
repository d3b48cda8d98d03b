package apiclient

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff is an exponential backoff policy with proportional jitter
type Backoff struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter is the fraction of the delay randomised in both directions, in [0,1]
	Jitter float64
}

// DefaultBackoff returns the policy used when none is configured
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
		Jitter:     0.2,
	}
}

// exponential builds an unbounded-in-time backoff; the attempt budget is
// applied by the caller.
func (b Backoff) exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.BaseDelay
	eb.Multiplier = b.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	eb.MaxInterval = b.MaxDelay
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = backoff.DefaultMaxInterval
	}
	eb.RandomizationFactor = b.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// retryAfterBackOff stretches the next wait to a server Retry-After hint,
// capped at max. The hint is consumed by the wait it stretches.
type retryAfterBackOff struct {
	backoff.BackOff
	hint *time.Duration
	max  time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if h := *b.hint; h > d {
		d = h
		if b.max > 0 && d > b.max {
			d = b.max
		}
	}
	*b.hint = 0
	return d
}
