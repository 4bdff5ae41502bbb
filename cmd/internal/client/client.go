// Package client wires the request layer together: cookie jar, credential
// accessor, dispatcher, renewal coordinator and session-expiry escalation.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"wayfarer/cmd/internal/credential"
	"wayfarer/cmd/internal/escalation"
	"wayfarer/cmd/internal/renewal"
	"wayfarer/cmd/internal/sessionflag"
	"wayfarer/cmd/internal/transport"
)

const (
	PathLogin     = "/auth/login"
	PathRegister  = "/auth/register"
	PathRefresh   = "/auth/refresh"
	PathLogout    = "/auth/logout"
	PathLogoutAll = "/auth/logout_all"
	PathMe        = "/users/me"
)

// Client is the request layer. All methods are safe for concurrent use.
type Client struct {
	cfg        Config
	log        *slog.Logger
	httpc      *http.Client
	jar        http.CookieJar
	dispatcher *transport.HTTPDispatcher
	creds      *credential.Accessor
	coord      *renewal.Coordinator
	escalator  *escalation.Escalator
	closers    []io.Closer
}

type options struct {
	log       *slog.Logger
	reg       prometheus.Registerer
	nav       escalation.Navigator
	notifier  escalation.Notifier
	flag      sessionflag.Store
	httpc     *http.Client
	jar       http.CookieJar
	transport http.RoundTripper
}

// Option customises New.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithRegisterer enables prometheus metrics for the dispatcher and coordinator.
func WithRegisterer(reg prometheus.Registerer) Option { return func(o *options) { o.reg = reg } }

func WithNavigator(n escalation.Navigator) Option { return func(o *options) { o.nav = n } }

func WithNotifier(n escalation.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithFlagStore overrides Config.SessionStore.
func WithFlagStore(s sessionflag.Store) Option { return func(o *options) { o.flag = s } }

// WithHTTPClient supplies the HTTP client. The Client works on a copy: a nil
// Jar is filled in and Timeout is taken from Config, leaving c untouched.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpc = c } }

// WithJar overrides Config.CookieFile.
func WithJar(j http.CookieJar) Option { return func(o *options) { o.jar = j } }

// WithTransport sets the base round tripper, e.g. an httptest server's.
func WithTransport(rt http.RoundTripper) Option { return func(o *options) { o.transport = rt } }

// New builds a Client from cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = slog.Default()
	}

	c := &Client{cfg: cfg, log: log}

	flag := o.flag
	if flag == nil {
		s, closer, err := sessionflag.Open(ctx, cfg.SessionStore, cfg.Profile)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		flag = s
		c.closers = append(c.closers, closer)
	}

	jar := o.jar
	if jar == nil {
		if cfg.CookieFile != "" {
			fj, err := NewFileJar(filepath.Clean(cfg.CookieFile), log)
			if err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("cookie jar: %w", err)
			}
			jar = fj
		} else {
			mj, err := NewJar()
			if err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("cookie jar: %w", err)
			}
			jar = mj
		}
	}
	c.jar = jar

	httpc := &http.Client{}
	if o.httpc != nil {
		cp := *o.httpc
		httpc = &cp
	}
	if httpc.Jar == nil {
		httpc.Jar = jar
	} else {
		c.jar = httpc.Jar
	}
	if o.transport != nil {
		httpc.Transport = o.transport
	}
	httpc.Timeout = cfg.Timeout
	c.httpc = httpc

	var (
		tm  *transport.Metrics
		rm  *renewal.Metrics
		err error
	)
	if o.reg != nil {
		if tm, err = transport.NewMetrics(o.reg); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("transport metrics: %w", err)
		}
		if rm, err = renewal.NewMetrics(o.reg); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("renewal metrics: %w", err)
		}
	}

	c.dispatcher, err = transport.NewHTTPDispatcher(cfg.BaseURL,
		transport.WithHTTPClient(httpc),
		transport.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		transport.WithMaxResponseBytes(cfg.MaxResponseBytes),
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithMetrics(tm),
		transport.WithLogger(log),
	)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	c.creds = credential.New(c.jar, c.dispatcher.BaseURL(), flag,
		credential.WithCSRFNames(cfg.CSRFCookie, cfg.CSRFHeader),
		credential.WithBearer(cfg.Bearer),
		credential.WithLogger(log),
	)

	c.escalator = escalation.New(c.creds,
		escalation.WithNavigator(o.nav),
		escalation.WithNotifier(o.notifier),
		escalation.WithLoginView(cfg.LoginView),
		escalation.WithLogger(log),
	)

	c.coord, err = renewal.New(c.dispatcher, c.creds, renewal.RenewerFunc(c.Renew),
		renewal.WithEscalator(c.escalator),
		renewal.WithTimeout(cfg.RenewalTimeout),
		renewal.WithAuthPaths(PathLogin, PathRegister, PathRefresh, PathLogout, PathLogoutAll),
		renewal.WithMetrics(rm),
		renewal.WithLogger(log),
	)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the session store's connections.
func (c *Client) Close() error {
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Client) Config() Config                        { return c.cfg }
func (c *Client) BaseURL() *url.URL                     { return c.dispatcher.BaseURL() }
func (c *Client) HTTPClient() *http.Client              { return c.httpc }
func (c *Client) Jar() http.CookieJar                   { return c.jar }
func (c *Client) Credentials() *credential.Accessor     { return c.creds }
func (c *Client) Coordinator() *renewal.Coordinator     { return c.coord }
func (c *Client) Escalator() *escalation.Escalator      { return c.escalator }
func (c *Client) Dispatcher() *transport.HTTPDispatcher { return c.dispatcher }
func (c *Client) Logger() *slog.Logger                  { return c.log }

// Active reports the persisted session flag.
func (c *Client) Active(ctx context.Context) bool { return c.creds.Active(ctx) }

// Do sends d through the renewal coordinator.
func (c *Client) Do(ctx context.Context, d *transport.Descriptor) (*transport.Response, error) {
	return c.coord.Do(ctx, d)
}

// Request builds and sends a descriptor, decoding a JSON response into out
// when out is non-nil.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	d := transport.NewDescriptor(method, path, payload)
	d.Query = query
	resp, err := c.Do(ctx, d)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Request(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, payload, out any) error {
	return c.Request(ctx, http.MethodPost, path, nil, payload, out)
}

func (c *Client) Put(ctx context.Context, path string, payload, out any) error {
	return c.Request(ctx, http.MethodPut, path, nil, payload, out)
}

func (c *Client) Patch(ctx context.Context, path string, payload, out any) error {
	return c.Request(ctx, http.MethodPatch, path, nil, payload, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Request(ctx, http.MethodDelete, path, nil, nil, out)
}

// Login exchanges credentials for a session and marks it active.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if req.Platform == "" {
		req.Platform = c.creds.Platform()
	}
	return c.authenticate(ctx, PathLogin, req)
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if req.Platform == "" {
		req.Platform = c.creds.Platform()
	}
	return c.authenticate(ctx, PathRegister, req)
}

func (c *Client) authenticate(ctx context.Context, path string, payload any) (*AuthResponse, error) {
	resp, err := c.Do(ctx, transport.NewDescriptor(http.MethodPost, path, payload))
	if err != nil {
		return nil, err
	}
	var out AuthResponse
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	c.creds.CaptureTokens(resp.Body)
	c.creds.MarkActive(ctx)
	c.log.Info("auth.login.ok", "path", path, "user_id", out.User.ID)
	return &out, nil
}

// Renew performs the refresh call. It bypasses the coordinator: the
// coordinator is what calls it.
func (c *Client) Renew(ctx context.Context) error {
	var payload any
	if p := c.creds.RefreshPayload(); p != nil {
		payload = p
	}
	d := c.creds.Attach(transport.NewDescriptor(http.MethodPost, PathRefresh, payload))
	resp, err := c.dispatcher.Send(ctx, d)
	if err != nil {
		return err
	}
	c.creds.CaptureTokens(resp.Body)
	return nil
}

// Logout ends the session on the server and clears local state. Local state
// is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context, everywhere bool) error {
	path := PathLogout
	if everywhere {
		path = PathLogoutAll
	}
	_, err := c.Do(ctx, transport.NewDescriptor(http.MethodPost, path, nil))
	c.creds.MarkInactive(ctx)
	if fj, ok := c.jar.(*FileJar); ok {
		if cerr := fj.Clear(); cerr != nil {
			c.log.Warn("auth.logout.jar_clear_failed", "err", cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.log.Info("auth.logout.ok", "everywhere", everywhere)
	return nil
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.Get(ctx, PathMe, nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// WebsocketURL maps the API base to ws(s):// and appends path.
func (c *Client) WebsocketURL(path string) string {
	u := c.dispatcher.BaseURL()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}
