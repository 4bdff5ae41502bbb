package realtime

import (
	"log/slog"
	"sync"
	"time"

	"wayfarer/cmd/internal/ids"
	v1 "wayfarer/contracts/realtime/v1"
)

// Hub owns the in-memory conversations and the set of connected peers.
type Hub struct {
	log *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*Conversation
	peers         map[string]*Peer
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:           log,
		conversations: make(map[string]*Conversation),
		peers:         make(map[string]*Peer),
	}
}

// Conversation returns a stable handle for id, creating it on first use.
func (h *Hub) Conversation(id string) *Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conversations[id]; ok {
		return c
	}
	c := NewConversation(h.log, id)
	h.conversations[id] = c
	return c
}

func (h *Hub) register(p *Peer) {
	h.mu.Lock()
	h.peers[p.SessionID] = p
	h.mu.Unlock()
}

func (h *Hub) unregister(p *Peer) {
	h.mu.Lock()
	delete(h.peers, p.SessionID)
	h.mu.Unlock()
}

// Connected returns the number of live peers.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Notify pushes a notification.new envelope to every peer of userID and
// returns how many accepted it.
func (h *Hub) Notify(userID string, n v1.NotificationNewPayload) int {
	env, err := v1.New(v1.TypeNotificationNew, ids.Make(), time.Now(), n)
	if err != nil {
		h.log.Error("hub.notify.encode_failed", "err", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, p := range h.peers {
		if p.UserID == userID && p.offer(env) {
			sent++
		}
	}
	return sent
}
