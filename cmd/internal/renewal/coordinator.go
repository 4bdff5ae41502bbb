package renewal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wayfarer/cmd/internal/escalation"
	"wayfarer/cmd/internal/transport"
)

// DefaultTimeout bounds one renewal call.
const DefaultTimeout = 15 * time.Second

// DefaultAuthPaths are never renewal-eligible.
var DefaultAuthPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
	"/auth/logout",
	"/auth/logout_all",
}

// State is the coordinator's renewal state.
type State int

const (
	Idle State = iota
	InFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Renewer performs the renewal call.
type Renewer interface {
	Renew(ctx context.Context) error
}

// RenewerFunc adapts a function to Renewer.
type RenewerFunc func(ctx context.Context) error

func (f RenewerFunc) Renew(ctx context.Context) error { return f(ctx) }

// Credentials decorates requests and records the session flag.
type Credentials interface {
	Attach(d *transport.Descriptor) *transport.Descriptor
	MarkActive(ctx context.Context)
	MarkInactive(ctx context.Context)
}

// Escalator is invoked once per failed episode.
type Escalator interface {
	Escalate(ctx context.Context, ev escalation.Event) bool
}

// Snapshot is a point-in-time view of the coordinator.
type Snapshot struct {
	State State
	// Episode is the current episode while InFlight, otherwise the last one.
	Episode uint64
	// Queued counts callers in the replay queue, not the trigger.
	Queued int
}

type episode struct {
	id    uint64
	queue *ReplayQueue
	done  chan struct{}
	err   error
}

// Coordinator runs single-flight session renewal.
type Coordinator struct {
	dispatcher transport.Dispatcher
	creds      Credentials
	renewer    Renewer
	escalator  Escalator
	authPaths  map[string]struct{}
	timeout    time.Duration
	metrics    *Metrics
	log        *slog.Logger

	mu      sync.Mutex
	current *episode
	last    uint64
}

// Option customises a Coordinator.
type Option func(*Coordinator)

func WithEscalator(e Escalator) Option {
	return func(c *Coordinator) { c.escalator = e }
}

// WithAuthPaths replaces the exempt endpoint list.
func WithAuthPaths(paths ...string) Option {
	return func(c *Coordinator) {
		c.authPaths = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			if p = cleanPath(p); p != "" {
				c.authPaths[p] = struct{}{}
			}
		}
	}
}

// WithTimeout bounds the renewal call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns an idle Coordinator.
func New(d transport.Dispatcher, creds Credentials, renewer Renewer, opts ...Option) (*Coordinator, error) {
	if d == nil {
		return nil, errors.New("renewal: nil dispatcher")
	}
	if creds == nil {
		return nil, errors.New("renewal: nil credentials")
	}
	if renewer == nil {
		return nil, errors.New("renewal: nil renewer")
	}
	c := &Coordinator{
		dispatcher: d,
		creds:      creds,
		renewer:    renewer,
		timeout:    DefaultTimeout,
		log:        slog.Default(),
	}
	WithAuthPaths(DefaultAuthPaths...)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends d and, on a renewal-eligible 401, waits for the episode and
// replays d once. A replay is never queued again.
func (c *Coordinator) Do(ctx context.Context, d *transport.Descriptor) (*transport.Response, error) {
	resp, err := c.send(ctx, d)
	if err == nil {
		return resp, nil
	}
	if rerr := c.Recover(ctx, d, err); rerr != nil {
		return nil, rerr
	}

	resp, err = c.send(ctx, d)
	c.metrics.replayed(err)
	if err != nil {
		c.log.Debug("renewal.replay.fail", "path", d.Path, "request_id", d.ID, "err", err)
	}
	return resp, err
}

func (c *Coordinator) send(ctx context.Context, d *transport.Descriptor) (*transport.Response, error) {
	return c.dispatcher.Send(ctx, c.creds.Attach(d))
}

// Recover handles a failed attempt of d. It returns nil when the caller
// should re-send d now, and otherwise the error the caller must surface:
// failErr itself when d is not eligible, a *Error when renewal failed, or
// ctx.Err() when the caller gave up waiting.
//
// Callers that do not go through Do (the websocket handshake) use Recover
// directly with an *transport.HTTPError they built themselves.
func (c *Coordinator) Recover(ctx context.Context, d *transport.Descriptor, failErr error) error {
	if !c.Eligible(d, failErr) {
		return failErr
	}

	c.mu.Lock()
	if !d.MarkRetried() {
		c.mu.Unlock()
		return failErr
	}

	ep := c.current
	var queued <-chan Outcome
	if ep == nil {
		c.last++
		ep = &episode{id: c.last, queue: NewReplayQueue(), done: make(chan struct{})}
		c.current = ep
		c.mu.Unlock()

		c.log.Info("renewal.start", "episode", ep.id, "trigger", d.Path, "request_id", d.ID)
		go c.run(context.WithoutCancel(ctx), ep)
	} else {
		ch, err := ep.queue.Enqueue(d)
		c.mu.Unlock()
		if err != nil {
			// Unreachable while the episode is current; surface rather than hang.
			return fmt.Errorf("renewal: join episode %d: %w", ep.id, err)
		}
		queued = ch
		c.log.Debug("renewal.join", "episode", ep.id, "path", d.Path, "request_id", d.ID)
	}

	c.metrics.wait(1)
	defer c.metrics.wait(-1)

	if queued == nil {
		select {
		case <-ep.done:
			return ep.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case out := <-queued:
		return out.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Eligible reports whether err on d may trigger or join a renewal: a 401, on
// a non-auth endpoint, for a descriptor not retried yet.
func (c *Coordinator) Eligible(d *transport.Descriptor, err error) bool {
	if d == nil || !transport.IsAuthFailure(err) {
		return false
	}
	if c.IsAuthPath(d.Path) {
		return false
	}
	return !d.Retried()
}

// IsAuthPath reports whether path is an exempt auth endpoint.
func (c *Coordinator) IsAuthPath(path string) bool {
	_, ok := c.authPaths[cleanPath(path)]
	return ok
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Snapshot{State: Idle, Episode: c.last}
	}
	return Snapshot{State: InFlight, Episode: c.current.id, Queued: c.current.queue.Len()}
}

func (c *Coordinator) run(parent context.Context, ep *episode) {
	start := time.Now()
	err := c.renew(parent)
	elapsed := time.Since(start)

	// Back to Idle before anyone is released, so a 401 seen after this point
	// starts a fresh episode instead of joining a drained queue.
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()

	c.metrics.settled(err == nil, elapsed)

	if err == nil {
		c.creds.MarkActive(parent)
		ep.err = nil
		close(ep.done)
		n, _ := ep.queue.Drain(Outcome{})
		c.log.Info("renewal.success", "episode", ep.id, "replays", n+1, "duration_ms", elapsed.Milliseconds())
		return
	}

	rerr := &Error{Episode: ep.id, Cause: err}
	c.creds.MarkInactive(parent)
	c.log.Warn("renewal.fail", "episode", ep.id, "duration_ms", elapsed.Milliseconds(), "err", err)

	// Escalate before releasing callers: by the time any of them observes the
	// failure, the redirect has happened.
	if c.escalator != nil && c.escalator.Escalate(parent, escalation.Event{Episode: ep.id, Cause: rerr}) {
		c.metrics.escalated()
	}

	ep.err = rerr
	close(ep.done)
	n, _ := ep.queue.Drain(Outcome{Err: rerr})
	c.log.Info("renewal.rejected", "episode", ep.id, "callers", n+1)
}

// renew runs the renewal call bounded by the timeout. A renewer that ignores
// its context still cannot hold the batch past the deadline.
func (c *Coordinator) renew(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.renewer.Renew(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("renewal timed out after %s: %w", c.timeout, ctx.Err())
	}
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
