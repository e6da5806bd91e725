package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// outboundLimiter shapes request concurrency to a single provider,
// following the token-bucket idea of goadesign-goa-ai's
// AdaptiveRateLimiter, simplified to a process-local, fixed-budget
// limiter: this Gateway runs single-process (see pkg/events' DESIGN.md
// note on why cross-process coordination was dropped), so there is no
// replicated-map budget to synchronize.
type outboundLimiter struct {
	limiter *rate.Limiter
}

// newOutboundLimiter builds a limiter admitting requestsPerSecond calls,
// with a burst large enough to let a batch of worker-pool goroutines fire
// together without serializing through the limiter one at a time.
func newOutboundLimiter(requestsPerSecond float64, burst int) *outboundLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &outboundLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (l *outboundLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
