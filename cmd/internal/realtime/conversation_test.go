package realtime

import (
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "wayfarer/contracts/realtime/v1"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestConversationAppendAssignsSequence(t *testing.T) {
	t.Parallel()

	c := NewConversation(quietLogger(), "conv-1")
	now := time.Now()

	m1, dup := c.Append("s1", "c-1", "hello", now)
	if dup || m1.Seq != 1 || m1.ServerMsgID == "" {
		t.Fatalf("first append: %+v dup=%v", m1, dup)
	}
	m2, dup := c.Append("s2", "c-1", "same client id, other sender", now)
	if dup || m2.Seq != 2 {
		t.Fatalf("second append: %+v dup=%v", m2, dup)
	}

	again, dup := c.Append("s1", "c-1", "resend", now)
	if !dup {
		t.Fatalf("resend not detected")
	}
	if again.Seq != m1.Seq || again.ServerMsgID != m1.ServerMsgID || again.Text != "hello" {
		t.Fatalf("resend returned %+v want %+v", again, m1)
	}
}

func TestConversationBroadcastSkipsFullQueues(t *testing.T) {
	t.Parallel()

	c := NewConversation(quietLogger(), "conv-1")
	fast := NewPeer("u1", "s1", 4)
	slow := NewPeer("u2", "s2", 1)
	gone := NewPeer("u3", "s3", 4)
	c.Join(fast)
	c.Join(slow)
	c.Join(gone)
	gone.Close()

	env, err := v1.New(v1.TypeMessageNew, "e1", time.Now(), v1.MessageNewPayload{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n := c.Broadcast(env); n != 2 {
		t.Fatalf("first broadcast reached %d want 2", n)
	}
	if n := c.Broadcast(env); n != 1 {
		t.Fatalf("second broadcast reached %d want 1", n)
	}
	if len(fast.Send) != 2 || len(slow.Send) != 1 {
		t.Fatalf("queues fast=%d slow=%d", len(fast.Send), len(slow.Send))
	}

	c.Leave("s1")
	c.Leave("s1")
	if got := c.Members(); got != 2 {
		t.Fatalf("members=%d want 2", got)
	}
}

func TestHubNotifyTargetsUser(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	a1 := NewPeer("alice", "s1", 4)
	a2 := NewPeer("alice", "s2", 4)
	b := NewPeer("bob", "s3", 4)
	h.register(a1)
	h.register(a2)
	h.register(b)
	defer h.unregister(b)

	if got := h.Connected(); got != 3 {
		t.Fatalf("connected=%d want 3", got)
	}
	if n := h.Notify("alice", v1.NotificationNewPayload{NotificationID: "n1", Kind: "comment", Text: "hi"}); n != 2 {
		t.Fatalf("notify reached %d want 2", n)
	}
	if len(b.Send) != 0 {
		t.Fatalf("bob received alice's notification")
	}

	env := <-a1.Send
	if env.Type != v1.TypeNotificationNew {
		t.Fatalf("type=%q", env.Type)
	}
	var p v1.NotificationNewPayload
	if err := env.Decode(&p); err != nil || p.NotificationID != "n1" {
		t.Fatalf("payload=%+v err=%v", p, err)
	}

	h.unregister(a2)
	if got := h.Connected(); got != 2 {
		t.Fatalf("connected=%d want 2", got)
	}
	if h.Conversation("x") != h.Conversation("x") {
		t.Fatalf("conversation handle not stable")
	}
}
