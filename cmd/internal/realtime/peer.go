package realtime

import (
	"sync"

	v1 "wayfarer/contracts/realtime/v1"
)

// Peer is one connected websocket session on the server side.
//
// Send is never closed; broadcasters check Done and drop instead.
type Peer struct {
	SessionID string
	UserID    string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewPeer constructs a Peer with a bounded send queue.
func NewPeer(userID, sessionID string, queue int) *Peer {
	if queue <= 0 {
		queue = 64
	}
	return &Peer{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan v1.Envelope, queue),
		done:      make(chan struct{}),
	}
}

// Done is closed when the peer is shutting down.
func (p *Peer) Done() <-chan struct{} {
	if p == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Close is idempotent.
func (p *Peer) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() { close(p.done) })
}

// offer enqueues env without blocking. It reports false when the queue is
// full or the peer is gone.
func (p *Peer) offer(env v1.Envelope) bool {
	select {
	case <-p.Done():
		return false
	default:
	}
	select {
	case p.Send <- env:
		return true
	default:
		return false
	}
}
