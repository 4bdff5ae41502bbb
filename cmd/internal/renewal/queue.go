package renewal

import (
	"sync"

	"wayfarer/cmd/internal/transport"
)

// Outcome settles one suspended caller. A nil Err means "replay now".
type Outcome struct {
	Err error
}

type pendingReplay struct {
	desc *transport.Descriptor
	ch   chan Outcome
}

// ReplayQueue holds the callers suspended on one renewal episode. Each entry
// has a one-shot buffered channel, so a caller that stopped waiting never
// blocks the drain.
type ReplayQueue struct {
	mu      sync.Mutex
	entries []pendingReplay
	drained bool
}

func NewReplayQueue() *ReplayQueue {
	return &ReplayQueue{}
}

// Enqueue suspends d on the episode and returns the channel its outcome
// arrives on.
func (q *ReplayQueue) Enqueue(d *transport.Descriptor) (<-chan Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drained {
		return nil, ErrQueueDrained
	}
	ch := make(chan Outcome, 1)
	q.entries = append(q.entries, pendingReplay{desc: d, ch: ch})
	return ch, nil
}

// Len returns the number of suspended callers.
func (q *ReplayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Drain delivers out to every entry and empties the queue. It succeeds once.
func (q *ReplayQueue) Drain(out Outcome) (int, error) {
	q.mu.Lock()
	if q.drained {
		q.mu.Unlock()
		return 0, ErrQueueDrained
	}
	q.drained = true
	entries := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range entries {
		e.ch <- out
		close(e.ch)
	}
	return len(entries), nil
}
