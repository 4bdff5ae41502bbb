package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"wayfarer/cmd/internal/credential"
	"wayfarer/cmd/internal/ids"
	"wayfarer/cmd/internal/renewal"
	"wayfarer/cmd/internal/transport"
	v1 "wayfarer/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const defaultHandshakeTimeout = 10 * time.Second

// ErrClosed is returned by Send and Receive after Close.
var ErrClosed = errors.New("realtime: connection closed")

// Session is the slice of the request layer Dial needs. *client.Client
// satisfies it.
type Session interface {
	WebsocketURL(path string) string
	HTTPClient() *http.Client
	Credentials() *credential.Accessor
	Coordinator() *renewal.Coordinator
}

// Conn is a client websocket speaking the v1 envelope protocol.
type Conn struct {
	ws  *websocket.Conn
	log *slog.Logger
	ack v1.HelloAckPayload

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

type dialOptions struct {
	log       *slog.Logger
	timeout   time.Duration
	agent     string
	skipHello bool
}

// DialOption customises Dial.
type DialOption func(*dialOptions)

func WithDialLogger(l *slog.Logger) DialOption {
	return func(o *dialOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithHandshakeTimeout bounds the upgrade and the hello exchange.
func WithHandshakeTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClientName is reported in the hello envelope.
func WithClientName(name string) DialOption {
	return func(o *dialOptions) { o.agent = name }
}

// WithoutHello skips the hello/hello.ack exchange.
func WithoutHello() DialOption {
	return func(o *dialOptions) { o.skipHello = true }
}

// Dial opens the realtime channel at path. A 401 on the handshake is handled
// like any other request: it joins or starts a renewal episode and the
// handshake is attempted once more.
func Dial(ctx context.Context, s Session, path string, opts ...DialOption) (*Conn, error) {
	o := dialOptions{log: slog.Default(), timeout: defaultHandshakeTimeout, agent: "wayfarer"}
	for _, opt := range opts {
		opt(&o)
	}

	d := transport.NewDescriptor(http.MethodGet, path, nil)
	var ws *websocket.Conn
	for {
		var err error
		ws, err = dialOnce(ctx, s, d, o.timeout)
		if err == nil {
			break
		}
		if rerr := s.Coordinator().Recover(ctx, d, err); rerr != nil {
			o.log.Info("ws.dial.fail", "path", path, "err", rerr)
			return nil, rerr
		}
		o.log.Info("ws.dial.retry", "path", path, "request_id", d.ID)
	}
	ws.SetReadLimit(maxFrameBytes)

	c := &Conn{ws: ws, log: o.log, closed: make(chan struct{})}
	if o.skipHello {
		return c, nil
	}

	hctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := c.Send(hctx, v1.TypeHello, "", v1.HelloPayload{Client: o.agent}); err != nil {
		_ = c.Close()
		return nil, err
	}
	env, err := c.Receive(hctx)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("realtime: await hello.ack: %w", err)
	}
	if env.Type != v1.TypeHelloAck {
		_ = c.Close()
		return nil, fmt.Errorf("realtime: expected %s, got %s", v1.TypeHelloAck, env.Type)
	}
	if err := env.Decode(&c.ack); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("realtime: decode hello.ack: %w", err)
	}
	o.log.Info("ws.open", "path", path, "ws_session", c.ack.SessionID)
	return c, nil
}

// dialOnce performs one handshake. A refused upgrade becomes an
// *transport.HTTPError so the coordinator can judge it.
func dialOnce(ctx context.Context, s Session, d *transport.Descriptor, timeout time.Duration) (*websocket.Conn, error) {
	d = s.Credentials().Attach(d)

	// The websocket library rejects clients with an overall timeout.
	hc := *s.HTTPClient()
	hc.Timeout = 0

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, resp, err := websocket.Dial(hctx, s.WebsocketURL(d.Path), &websocket.DialOptions{
		HTTPClient:   &hc,
		HTTPHeader:   d.Header.Clone(),
		Subprotocols: []string{v1.Subprotocol},
	})
	if err == nil {
		if ws.Subprotocol() != v1.Subprotocol {
			_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
			return nil, fmt.Errorf("realtime: server did not select %s", v1.Subprotocol)
		}
		return ws, nil
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		var body []byte
		if resp.Body != nil {
			body, _ = io.ReadAll(io.LimitReader(resp.Body, 4096))
		}
		return nil, &transport.HTTPError{
			Method: d.Method,
			Path:   d.Path,
			Status: resp.StatusCode,
			Header: resp.Header,
			Body:   body,
		}
	}
	return nil, &transport.NoResponseError{Method: d.Method, Path: d.Path, Err: err}
}

// Session returns the server's hello.ack, empty when hello was skipped.
func (c *Conn) Session() v1.HelloAckPayload { return c.ack }

// Send writes one envelope of type typ.
func (c *Conn) Send(ctx context.Context, typ, convID string, payload any) error {
	env, err := v1.New(typ, ids.Make(), time.Now(), payload)
	if err != nil {
		return err
	}
	env.ConvID = convID
	return c.SendEnvelope(ctx, env)
}

// SendEnvelope writes env as is.
func (c *Conn) SendEnvelope(ctx context.Context, env v1.Envelope) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, b)
}

// Receive blocks for the next envelope. Server error envelopes are returned
// as envelopes; callers inspect Type.
func (c *Conn) Receive(ctx context.Context) (v1.Envelope, error) {
	select {
	case <-c.closed:
		return v1.Envelope{}, ErrClosed
	default:
	}
	env, err := readEnvelope(ctx, c.ws)
	if err != nil {
		if websocket.CloseStatus(err) != -1 {
			return v1.Envelope{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return v1.Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, fmt.Errorf("realtime: %w", err)
	}
	return env, nil
}

// Join subscribes to a conversation and waits for the server's echo.
func (c *Conn) Join(ctx context.Context, convID string) error {
	if err := c.Send(ctx, v1.TypeConversationJoin, convID, v1.ConversationJoinPayload{ConversationID: convID}); err != nil {
		return err
	}
	for {
		env, err := c.Receive(ctx)
		if err != nil {
			return err
		}
		switch env.Type {
		case v1.TypeConversationJoin:
			return nil
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = env.Decode(&p)
			return fmt.Errorf("realtime: join %s: %s: %s", convID, p.Code, p.Message)
		}
	}
}

// Close is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close(websocket.StatusNormalClosure, "bye")
	})
	return err
}
