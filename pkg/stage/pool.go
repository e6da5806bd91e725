// Package stage implements the bounded-concurrency fan-out executors of
// spec §4.5: parse and extract run each item on a capped worker pool,
// preserve input order in their results regardless of completion order,
// and convert individual item failures into in-band results rather than
// aborting the whole stage.
package stage

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ItemCallbacks are the three optional, non-blocking hooks a stage
// invokes around each item (spec §4.5). They execute on the worker
// goroutine that just finished the item and must not block.
type ItemCallbacks struct {
	OnStarted   func(index int, filename string)
	OnCompleted func(index int, filename string, usage any)
	OnError     func(index int, filename string, message string)

	// OnThinking forwards a reasoning-token fragment as it streams in,
	// shared across every item the stage runs concurrently rather than
	// being tagged per item (spec §4.6 tags the ephemeral lane by pipeline
	// phase, not by document).
	OnThinking func(text string)
}

func (c ItemCallbacks) started(i int, name string) {
	if c.OnStarted != nil {
		c.OnStarted(i, name)
	}
}

func (c ItemCallbacks) completed(i int, name string, usage any) {
	if c.OnCompleted != nil {
		c.OnCompleted(i, name, usage)
	}
}

func (c ItemCallbacks) errored(i int, name string, msg string) {
	if c.OnError != nil {
		c.OnError(i, name, msg)
	}
}

func (c ItemCallbacks) thinking(text string) {
	if c.OnThinking != nil {
		c.OnThinking(text)
	}
}

// runPool fans items out across an errgroup capped at concurrency,
// invoking process for each; process must itself convert failures into
// an in-band result value (spec §4.5's per-item failure semantics) — it
// returns a non-nil error only for fatal, stage-aborting conditions such
// as context cancellation. Results are returned in input order.
func runPool[T any, R any](ctx context.Context, items []T, concurrency int, process func(ctx context.Context, index int, item T) (R, error)) ([]R, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]R, len(items))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for i, item := range items {
		i, item := i, item
		group.Go(func() error {
			res, err := process(groupCtx, i, item)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
