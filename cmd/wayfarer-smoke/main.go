// Package main provides a CI-friendly smoke test for session renewal.
//
// It starts the dev backend in-process and validates:
//   - register + session flag persisted
//   - N concurrent requests after access expiry share exactly one refresh
//   - every request is replayed and succeeds
//   - a websocket handshake rejected with 401 renews once and re-dials
//   - a failing refresh escalates once and fails the whole batch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"wayfarer/cmd/internal/app"
	"wayfarer/cmd/internal/client"
	"wayfarer/cmd/internal/devserver"
	"wayfarer/cmd/internal/escalation"
	"wayfarer/cmd/internal/realtime"
	"wayfarer/cmd/internal/renewal"
	"wayfarer/cmd/internal/transport"
	v1 "wayfarer/contracts/realtime/v1"

	"golang.org/x/sync/errgroup"
)

func main() {
	run(os.Stdout, os.Args[1:])
}

// run executes every smoke step and exits through fatalf on the first
// violation.
func run(out io.Writer, args []string) {
	fs := flag.NewFlagSet("wayfarer-smoke", flag.ExitOnError)
	var (
		n        = fs.Int("n", 25, "Concurrent requests per burst")
		path     = fs.String("path", "/forums", "Path each request GETs")
		timeout  = fs.Duration("timeout", 10*time.Second, "Per-step timeout")
		logLevel = fs.String("log-level", "warn", "Log level for client and server")
		verbose  = fs.Bool("v", false, "Verbose output")
	)
	_ = fs.Parse(args)
	if *n < 2 {
		fatalf("invalid -n: need at least 2 requests")
	}

	log := app.NewLogger(os.Stderr, *logLevel, app.FormatPretty)
	root := context.Background()

	srv := mustStartServer(log)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	nav := escalation.NewRecordingNavigator("/forums")
	c := mustClient(root, ts.URL, log, nav, *timeout)
	defer c.Close()

	mustRegister(root, c, *timeout)
	if !c.Active(root) {
		fatalf("session flag not set after register")
	}
	if *verbose {
		fmt.Fprintf(out, "registered against %s\n", ts.URL)
	}

	// Burst 1: expiry, one renewal, N replays.
	srv.ExpireAccess()
	errs := mustBurst(root, srv, c, *n, *path, *timeout)
	for i, err := range errs {
		if err != nil {
			fatalf("request %d failed after renewal: %v", i, err)
		}
	}
	if got := srv.Stats().RefreshCalls; got != 1 {
		fatalf("burst: refresh calls=%d want 1", got)
	}
	if *verbose {
		fmt.Fprintf(out, "burst ok: %d requests, 1 refresh\n", *n)
	}

	// Websocket handshake after expiry: one renewal, one re-dial.
	srv.ExpireAccess()
	mustDial(root, c, log, *timeout)
	if got := srv.Stats().RefreshCalls; got != 2 {
		fatalf("dial: refresh calls=%d want 2", got)
	}
	if *verbose {
		fmt.Fprintln(out, "websocket re-dial ok")
	}

	// Burst 2: refresh fails, the batch fails together, escalation once.
	srv.ExpireAccess()
	srv.FailRefresh(true)
	errs = mustBurst(root, srv, c, *n, *path, *timeout)
	for i, err := range errs {
		if !errors.Is(err, renewal.ErrRenewalFailed) {
			fatalf("request %d: err=%v want renewal failure", i, err)
		}
	}
	if got := srv.Stats().RefreshCalls; got != 3 {
		fatalf("failed burst: refresh calls=%d want 3", got)
	}
	if h := nav.History(); len(h) != 1 || h[0] != "/login?expired=1" {
		fatalf("escalation history=%v want one redirect to login", h)
	}
	if c.Active(root) {
		fatalf("session flag still set after escalation")
	}

	fmt.Fprintf(out, "OK: renewal smoke passed (n=%d)\n", *n)
}

func mustStartServer(log *slog.Logger) *devserver.Server {
	cfg := devserver.DefaultConfig()
	// Cheap hashing; the smoke run only creates one user.
	cfg.Argon2 = devserver.Argon2Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	srv, err := devserver.New(cfg, devserver.WithLogger(log))
	if err != nil {
		fatalf("start dev backend: %v", err)
	}
	return srv
}

func mustClient(ctx context.Context, baseURL string, log *slog.Logger, nav escalation.Navigator, timeout time.Duration) *client.Client {
	cfg := client.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Timeout = timeout
	cfg.RenewalTimeout = timeout
	c, err := client.New(ctx, cfg,
		client.WithLogger(log),
		client.WithNavigator(nav),
		client.WithNotifier(escalation.NotifierFunc(func(context.Context, string, error) {})),
	)
	if err != nil {
		fatalf("client: %v", err)
	}
	return c
}

func mustRegister(parent context.Context, c *client.Client, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	name := fmt.Sprintf("smoke%d", time.Now().UnixNano())
	if _, err := c.Register(ctx, client.RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "smoke test password",
	}); err != nil {
		fatalf("register: %v", err)
	}
}

// mustBurst fires n concurrent GETs while the refresh is held, so every
// request fails once before the renewal can settle.
func mustBurst(parent context.Context, srv *devserver.Server, c *client.Client, n int, path string, stepTimeout time.Duration) []error {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	release := srv.HoldRefresh()
	defer release()

	errs := make([]error, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			_, errs[i] = c.Do(gctx, transport.NewDescriptor(http.MethodGet, path, nil))
			return nil
		})
	}

	mustWaitQueued(ctx, c, n-1)
	release()
	_ = g.Wait()
	return errs
}

func mustWaitQueued(ctx context.Context, c *client.Client, want int) {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		s := c.Coordinator().Snapshot()
		if s.State == renewal.InFlight && s.Queued == want {
			return
		}
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %d queued requests: %+v", want, s)
		case <-t.C:
		}
	}
}

func mustDial(parent context.Context, c *client.Client, log *slog.Logger, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, err := realtime.Dial(ctx, c, "/ws", realtime.WithDialLogger(log), realtime.WithClientName("renewal-smoke"))
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Join(ctx, "smoke-room"); err != nil {
		fatalf("join: %v", err)
	}
	if err := conn.Send(ctx, v1.TypeMessageSend, "smoke-room", v1.MessageSendPayload{
		ConversationID: "smoke-room",
		ClientMsgID:    "smoke-1",
		Text:           "renewed",
	}); err != nil {
		fatalf("send: %v", err)
	}
	for {
		env, err := conn.Receive(ctx)
		if err != nil {
			fatalf("await message.new: %v", err)
		}
		if env.Type == v1.TypeMessageNew {
			return
		}
		if env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = env.Decode(&ep)
			fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

