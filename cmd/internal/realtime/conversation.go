package realtime

import (
	"log/slog"
	"sync"
	"time"

	"wayfarer/cmd/internal/ids"
	v1 "wayfarer/contracts/realtime/v1"
)

// Message is an accepted chat message.
type Message struct {
	ConversationID string
	ClientMsgID    string
	ServerMsgID    string
	Seq            int64
	Sender         string
	Text           string
	ServerTS       time.Time
}

// Conversation is an in-memory membership and fan-out primitive.
// Join, Leave and Broadcast are safe concurrently; Broadcast never blocks.
type Conversation struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Peer
	seq     int64
	// sender session + client id -> accepted message, for idempotent resends
	accepted map[string]Message
}

// NewConversation constructs a conversation.
func NewConversation(log *slog.Logger, id string) *Conversation {
	return &Conversation{
		log:      log,
		ID:       id,
		members:  make(map[string]*Peer),
		accepted: make(map[string]Message),
	}
}

// Join adds a peer to membership.
func (c *Conversation) Join(p *Peer) {
	if c == nil || p == nil || p.SessionID == "" {
		return
	}
	c.mu.Lock()
	c.members[p.SessionID] = p
	c.mu.Unlock()

	c.log.Info("conversation.member.join", "conversation_id", c.ID, "session_id", p.SessionID)
}

// Leave removes a peer from membership.
func (c *Conversation) Leave(sessionID string) {
	if c == nil || sessionID == "" {
		return
	}
	c.mu.Lock()
	_, ok := c.members[sessionID]
	delete(c.members, sessionID)
	c.mu.Unlock()

	if ok {
		c.log.Info("conversation.member.leave", "conversation_id", c.ID, "session_id", sessionID)
	}
}

// Members returns the current member count.
func (c *Conversation) Members() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Append assigns the next sequence number to a message. A resend with the
// same sender and client id returns the original and dup=true.
func (c *Conversation) Append(sender, clientMsgID, text string, now time.Time) (msg Message, dup bool) {
	key := sender + "\x00" + clientMsgID

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.accepted[key]; ok {
		return m, true
	}
	c.seq++
	msg = Message{
		ConversationID: c.ID,
		ClientMsgID:    clientMsgID,
		ServerMsgID:    ids.Make(),
		Seq:            c.seq,
		Sender:         sender,
		Text:           text,
		ServerTS:       now.UTC(),
	}
	c.accepted[key] = msg
	return msg, false
}

// Broadcast fans env out to all members, dropping it for members whose queue
// is full. It returns the number of members that accepted it.
func (c *Conversation) Broadcast(env v1.Envelope) int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, m := range c.members {
		if m.offer(env) {
			n++
		}
	}
	return n
}
