package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"wayfarer/cmd/internal/ids"
	v1 "wayfarer/contracts/realtime/v1"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

const (
	maxFrameBytes   = 64 << 10
	maxMessageChars = 4000

	defaultSendQueue        = 256
	defaultWriteTimeout     = 5 * time.Second
	defaultReadIdle         = 2 * time.Minute
	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	defaultEventRate        = 12
	defaultEventBurst       = 120
	maxPingFailures         = 3
	closeGrace              = time.Second
)

// Identity is the authenticated owner of a websocket session.
type Identity struct {
	UserID    string
	SessionID string
}

// Authenticator resolves the caller of an upgrade request. An error means
// the handshake is answered with 401 and never upgraded.
type Authenticator func(r *http.Request) (Identity, error)

// Gateway is the server websocket entrypoint.
type Gateway struct {
	log  *slog.Logger
	hub  *Hub
	auth Authenticator

	originPatterns []string
	sendQueue      int
	writeTimeout   time.Duration
	readIdle       time.Duration
	hbEvery        time.Duration
	hbTimeout      time.Duration
	eventRate      rate.Limit
	eventBurst     int
}

// GatewayOption customises NewGateway.
type GatewayOption func(*Gateway)

func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithOriginPatterns authorises cross-origin browsers (host patterns).
func WithOriginPatterns(p ...string) GatewayOption {
	return func(g *Gateway) { g.originPatterns = append(g.originPatterns, p...) }
}

// WithHeartbeat sets the ping interval and per-ping timeout.
func WithHeartbeat(every, timeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		if every > 0 {
			g.hbEvery = every
		}
		if timeout > 0 {
			g.hbTimeout = timeout
		}
	}
}

// WithEventRate limits inbound envelopes per connection.
func WithEventRate(perSecond float64, burst int) GatewayOption {
	return func(g *Gateway) {
		if perSecond > 0 && burst > 0 {
			g.eventRate = rate.Limit(perSecond)
			g.eventBurst = burst
		}
	}
}

// NewGateway builds a gateway over hub. auth is required.
func NewGateway(hub *Hub, auth Authenticator, opts ...GatewayOption) (*Gateway, error) {
	if hub == nil || auth == nil {
		return nil, errors.New("realtime: hub and authenticator are required")
	}
	g := &Gateway{
		log:          slog.Default(),
		hub:          hub,
		auth:         auth,
		sendQueue:    defaultSendQueue,
		writeTimeout: defaultWriteTimeout,
		readIdle:     defaultReadIdle,
		hbEvery:      defaultHeartbeatEvery,
		hbTimeout:    defaultHeartbeatTimeout,
		eventRate:    defaultEventRate,
		eventBurst:   defaultEventBurst,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ServeHTTP authenticates, upgrades and runs the session loop.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := g.auth(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "unauthorized", "message": "authentication required"},
		})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	g.run(r.Context(), conn, id)
}

func (g *Gateway) run(parent context.Context, conn *websocket.Conn, id Identity) {
	peer := NewPeer(id.UserID, ids.Make(), g.sendQueue)
	g.hub.register(peer)
	defer g.hub.unregister(peer)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	log := g.log.With("ws_session", peer.SessionID, "user_id", id.UserID)
	log.Info("ws.open")

	var (
		closeOnce sync.Once
		joined    *Conversation
	)
	// shutdown may run on the writer or heartbeat goroutine; membership is
	// owned by the read loop and released after it exits.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			peer.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-peer.Done():
				return
			case env := <-peer.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.hbEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.hbTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err == nil {
					failures = 0
					continue
				}
				failures++
				log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
			}
		}
	}()

	limiter := rate.NewLimiter(g.eventRate, g.eventBurst)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdle)
		env, err := readEnvelope(readCtx, conn)
		readCancel()
		if err != nil {
			var (
				syntax   *json.SyntaxError
				mismatch *json.UnmarshalTypeError
			)
			if errors.As(err, &syntax) || errors.As(err, &mismatch) {
				g.reply(peer, "bad_json", "invalid JSON")
				continue
			}
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Info("ws.read.fail", "err", err)
			}
			shutdown(websocket.StatusNormalClosure, "bye")
			break
		}

		if !limiter.Allow() {
			g.reply(peer, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break
		}
		if err := env.Validate(); err != nil {
			g.reply(peer, "bad_envelope", err.Error())
			continue
		}

		switch env.Type {
		case v1.TypeHello:
			g.send(peer, v1.TypeHelloAck, "", v1.HelloAckPayload{SessionID: peer.SessionID, UserID: peer.UserID})

		case v1.TypeConversationJoin:
			conv, err := g.onJoin(peer, env)
			if err != nil {
				g.reply(peer, "join_failed", err.Error())
				continue
			}
			if joined != nil && joined != conv {
				joined.Leave(peer.SessionID)
			}
			joined = conv

		case v1.TypeMessageSend:
			if joined == nil {
				g.reply(peer, "not_joined", "join first")
				continue
			}
			if err := g.onMessageSend(peer, joined, env); err != nil {
				g.reply(peer, "send_failed", err.Error())
			}

		default:
			g.reply(peer, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	if joined != nil {
		joined.Leave(peer.SessionID)
	}
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	log.Info("ws.close")
}

func (g *Gateway) onJoin(peer *Peer, env v1.Envelope) (*Conversation, error) {
	var p v1.ConversationJoinPayload
	if err := env.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		return nil, errors.New("missing conversation_id")
	}

	conv := g.hub.Conversation(convID)
	conv.Join(peer)
	if !g.send(peer, v1.TypeConversationJoin, convID, v1.ConversationJoinPayload{ConversationID: convID}) {
		conv.Leave(peer.SessionID)
		return nil, errors.New("backpressure: join echo")
	}
	return conv, nil
}

func (g *Gateway) onMessageSend(peer *Peer, conv *Conversation, env v1.Envelope) error {
	var p v1.MessageSendPayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if p.ConversationID != conv.ID {
		return errors.New("invalid conversation_id")
	}
	if strings.TrimSpace(p.ClientMsgID) == "" {
		return errors.New("missing client_msg_id")
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return errors.New("empty text")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	msg, dup := conv.Append(peer.SessionID, p.ClientMsgID, text, time.Now())
	ack := v1.MessageAckPayload{
		ConversationID: msg.ConversationID,
		ClientMsgID:    msg.ClientMsgID,
		ServerMsgID:    msg.ServerMsgID,
		Seq:            msg.Seq,
	}
	if !g.send(peer, v1.TypeMessageAck, conv.ID, ack) {
		return errors.New("backpressure: ack")
	}
	if dup {
		return nil
	}

	env, err := v1.New(v1.TypeMessageNew, ids.Make(), msg.ServerTS, v1.MessageNewPayload{
		ConversationID: msg.ConversationID,
		ClientMsgID:    msg.ClientMsgID,
		ServerMsgID:    msg.ServerMsgID,
		Seq:            msg.Seq,
		Sender:         peer.UserID,
		Text:           msg.Text,
		ServerTS:       msg.ServerTS,
	})
	if err != nil {
		return err
	}
	env.ConvID = conv.ID
	conv.Broadcast(env)
	return nil
}

func (g *Gateway) send(peer *Peer, typ, convID string, payload any) bool {
	env, err := v1.New(typ, ids.Make(), time.Now(), payload)
	if err != nil {
		g.log.Error("ws.encode.fail", "type", typ, "err", err)
		return false
	}
	env.ConvID = convID
	return peer.offer(env)
}

func (g *Gateway) reply(peer *Peer, code, msg string) {
	_ = g.send(peer, v1.TypeError, "", v1.ErrorPayload{Code: code, Message: msg})
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
