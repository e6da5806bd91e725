package llm

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryAttempts is the number of retries after the initial attempt for a
// transient failure (spec §4.2: base delays {2s,4s,8s}, so 3 retries —
// 4 attempts total).
const retryAttempts = 3

// emptyResponseRetries is the number of additional attempts tried after a
// syntactically valid but empty response, beyond the normal retry budget.
const emptyResponseRetries = 2

// transientDelays are the base delays before each retry of a transient
// failure; each is multiplied by a jitter factor in [1.0, 1.5).
var transientDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// emptyResponseDelay is the base delay before each empty-response retry;
// it uses a distinct, shorter jitter range than transient retries.
const emptyResponseDelay = 500 * time.Millisecond

// jitteredBackOff wraps a constant base delay with the jitter range spec
// §4.2 specifies, built on cenkalti/backoff/v4's BackOff interface so the
// Gateway's retry loop composes with backoff.Retry rather than hand-
// rolling a sleep loop.
type jitteredBackOff struct {
	delays []time.Duration
	jitter func() float64
	n      int
}

func newTransientBackOff() *jitteredBackOff {
	return &jitteredBackOff{
		delays: transientDelays,
		jitter: func() float64 { return 1.0 + rand.Float64()*0.5 },
	}
}

func newEmptyResponseBackOff() *jitteredBackOff {
	delays := make([]time.Duration, emptyResponseRetries)
	for i := range delays {
		delays[i] = emptyResponseDelay
	}
	return &jitteredBackOff{
		delays: delays,
		jitter: func() float64 { return 0.8 + rand.Float64()*0.4 },
	}
}

func (b *jitteredBackOff) NextBackOff() time.Duration {
	if b.n >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.n]
	b.n++
	return time.Duration(float64(d) * b.jitter())
}

func (b *jitteredBackOff) Reset() { b.n = 0 }

// withContext wraps b so backoff.Retry stops promptly on ctx cancellation.
func withContext(ctx context.Context, b backoff.BackOff) backoff.BackOff {
	return backoff.WithContext(b, ctx)
}
