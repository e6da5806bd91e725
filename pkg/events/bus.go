// Package events implements the dual-lane event system of spec §4.1: a
// durable lane, persisted and replayable by index, and an ephemeral lane
// for high-frequency streaming tokens that is never persisted and is
// destroyed the moment an analysis reaches a terminal status.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/proculyze/analyzer/pkg/models"
	"github.com/proculyze/analyzer/pkg/store"
)

// ephemeralCapacity bounds each analysis's ephemeral queue. Once full, the
// oldest unread chunk is dropped to make room for the newest — readers
// see a gap, never back-pressure on the producer.
const ephemeralCapacity = 500

// Bus is the process-local event hub: one Bus instance per server process,
// shared by the pipeline orchestrator (producer) and the SSE handlers
// (consumers). Durable events are also persisted in the backing Store,
// which ReplayFrom reads back; live delivery to subscribers on both lanes
// is process-local. Ephemeral chunks are never persisted, mirroring the
// original implementation's per-analysis in-memory queue
// (stream_store.py).
type Bus struct {
	store store.Store

	mu          sync.RWMutex
	subscribers map[string][]chan models.Event // analysisID -> durable subscribers

	ephMu     sync.Mutex
	ephemeral map[string]*ephemeralQueue // analysisID -> bounded chunk queue
}

// NewBus constructs a Bus backed by store for durable persistence.
func NewBus(s store.Store) *Bus {
	return &Bus{
		store:       s,
		subscribers: make(map[string][]chan models.Event),
		ephemeral:   make(map[string]*ephemeralQueue),
	}
}

// Publish persists evt to the durable log and fans it out to every live
// subscriber for analysisID. The returned event carries its assigned
// index.
func (b *Bus) Publish(ctx context.Context, analysisID string, evt models.Event) (models.Event, error) {
	stored, err := b.store.AppendEvent(ctx, analysisID, evt)
	if err != nil {
		return models.Event{}, err
	}

	b.mu.RLock()
	subs := append([]chan models.Event(nil), b.subscribers[analysisID]...)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- stored:
		default:
			slog.Warn("durable event subscriber is slow, dropping delivery", "analysis_id", analysisID, "event_type", stored.Type)
		}
	}
	return stored, nil
}

// Subscribe registers a durable-event channel for analysisID. Callers
// must call the returned unsubscribe func when done reading.
func (b *Bus) Subscribe(analysisID string) (<-chan models.Event, func()) {
	ch := make(chan models.Event, 32)
	b.mu.Lock()
	b.subscribers[analysisID] = append(b.subscribers[analysisID], ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[analysisID]
		for i, c := range subs {
			if c == ch {
				b.subscribers[analysisID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, unsubscribe
}

// ReplayFrom returns every durable event recorded for analysisID at or
// after sinceIndex, for SSE reconnect replay (spec §4.1, §8).
func (b *Bus) ReplayFrom(ctx context.Context, analysisID string, sinceIndex uint32) ([]models.Event, error) {
	return b.store.ReadEventsFrom(ctx, analysisID, sinceIndex)
}

// PublishThinking pushes an ephemeral reasoning-token chunk onto
// analysisID's bounded queue, dropping the oldest unread entry if full.
// Never persisted, never blocks the producer.
func (b *Bus) PublishThinking(analysisID string, chunk models.ThinkingChunk) {
	b.ephMu.Lock()
	q, ok := b.ephemeral[analysisID]
	if !ok {
		q = newEphemeralQueue(ephemeralCapacity)
		b.ephemeral[analysisID] = q
	}
	b.ephMu.Unlock()
	q.push(chunk)
}

// SubscribeThinking returns a channel of ephemeral chunks for analysisID.
// Multiple subscribers may attach; each sees every chunk pushed after it
// subscribes.
func (b *Bus) SubscribeThinking(analysisID string) (<-chan models.ThinkingChunk, func()) {
	b.ephMu.Lock()
	q, ok := b.ephemeral[analysisID]
	if !ok {
		q = newEphemeralQueue(ephemeralCapacity)
		b.ephemeral[analysisID] = q
	}
	b.ephMu.Unlock()
	return q.subscribe()
}

// DestroyEphemeral tears down analysisID's ephemeral lane. Called exactly
// once, when the analysis reaches a terminal status (spec §4.1's
// destroyed-on-terminal-state invariant).
func (b *Bus) DestroyEphemeral(analysisID string) {
	b.ephMu.Lock()
	q, ok := b.ephemeral[analysisID]
	delete(b.ephemeral, analysisID)
	b.ephMu.Unlock()
	if ok {
		q.closeAll()
	}
}
