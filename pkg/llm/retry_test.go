package llm

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestJitteredBackOffSequence(t *testing.T) {
	b := &jitteredBackOff{
		delays: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		jitter: func() float64 { return 1.0 },
	}

	d1 := b.NextBackOff()
	assert.Equal(t, 2*time.Second, d1)

	d2 := b.NextBackOff()
	assert.Equal(t, 4*time.Second, d2)

	d3 := b.NextBackOff()
	assert.Equal(t, 8*time.Second, d3)

	d4 := b.NextBackOff()
	assert.Equal(t, backoff.Stop, d4)
}

func TestJitteredBackOffResetsAttemptCounter(t *testing.T) {
	b := &jitteredBackOff{
		delays: []time.Duration{1 * time.Second},
		jitter: func() float64 { return 1.0 },
	}
	b.NextBackOff()
	b.Reset()
	d := b.NextBackOff()
	assert.Equal(t, 1*time.Second, d)
}

func TestJitteredBackOffAppliesJitterMultiplier(t *testing.T) {
	b := &jitteredBackOff{
		delays: []time.Duration{10 * time.Second},
		jitter: func() float64 { return 1.5 },
	}
	d := b.NextBackOff()
	assert.Equal(t, 15*time.Second, d)
}

func TestNewTransientBackOffHasThreeDelays(t *testing.T) {
	b := newTransientBackOff()
	assert.Len(t, b.delays, retryAttempts)
}

func TestNewEmptyResponseBackOffHasTwoDelays(t *testing.T) {
	b := newEmptyResponseBackOff()
	assert.Len(t, b.delays, emptyResponseRetries)
}
