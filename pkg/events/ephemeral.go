package events

import (
	"sync"

	"github.com/proculyze/analyzer/pkg/models"
)

// ephemeralQueue fans a bounded, drop-oldest stream of thinking chunks out
// to every live subscriber. Unlike the durable lane, there is no replay:
// a subscriber only sees chunks pushed after it attaches.
type ephemeralQueue struct {
	capacity int

	mu          sync.Mutex
	subscribers []chan models.ThinkingChunk
}

func newEphemeralQueue(capacity int) *ephemeralQueue {
	return &ephemeralQueue{capacity: capacity}
}

func (q *ephemeralQueue) subscribe() (<-chan models.ThinkingChunk, func()) {
	ch := make(chan models.ThinkingChunk, q.capacity)
	q.mu.Lock()
	q.subscribers = append(q.subscribers, ch)
	q.mu.Unlock()

	unsubscribe := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, c := range q.subscribers {
			if c == ch {
				q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, unsubscribe
}

// push delivers chunk to every subscriber, dropping the oldest buffered
// chunk on any subscriber whose channel is full rather than blocking the
// producer.
func (q *ephemeralQueue) push(chunk models.ThinkingChunk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subscribers {
		select {
		case ch <- chunk:
		default:
			// Drop the oldest queued chunk to make room, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- chunk:
			default:
			}
		}
	}
}

func (q *ephemeralQueue) closeAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subscribers {
		close(ch)
	}
	q.subscribers = nil
}
