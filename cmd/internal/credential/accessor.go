// Package credential attaches session evidence to outgoing requests and owns
// the persisted "session active" flag.
package credential

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"wayfarer/cmd/internal/sessionflag"
	"wayfarer/cmd/internal/transport"
)

const (
	DefaultCSRFCookie = "wayfarer_csrf"
	DefaultCSRFHeader = "X-CSRF-Token"
)

// Accessor reads the CSRF cookie from the client's jar and mirrors the
// session flag. None of its methods fail: store errors are logged.
type Accessor struct {
	jar        http.CookieJar
	base       *url.URL
	flag       sessionflag.Store
	csrfCookie string
	csrfHeader string
	bearer     bool
	log        *slog.Logger

	mu      sync.RWMutex
	access  string
	refresh string
}

// Option customises an Accessor.
type Option func(*Accessor)

// WithCSRFNames overrides the CSRF cookie and header names. Empty values keep
// the defaults.
func WithCSRFNames(cookie, header string) Option {
	return func(a *Accessor) {
		if cookie = strings.TrimSpace(cookie); cookie != "" {
			a.csrfCookie = cookie
		}
		if header = strings.TrimSpace(header); header != "" {
			a.csrfHeader = header
		}
	}
}

// WithBearer switches to native-platform mode: tokens come from response
// bodies and travel in the Authorization header instead of cookies.
func WithBearer(enabled bool) Option {
	return func(a *Accessor) { a.bearer = enabled }
}

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Accessor) {
		if l != nil {
			a.log = l
		}
	}
}

// New returns an Accessor for cookies scoped to base. A nil flag store falls
// back to process memory.
func New(jar http.CookieJar, base *url.URL, flag sessionflag.Store, opts ...Option) *Accessor {
	if flag == nil {
		flag = sessionflag.NewMemoryStore(false)
	}
	a := &Accessor{
		jar:        jar,
		base:       base,
		flag:       flag,
		csrfCookie: DefaultCSRFCookie,
		csrfHeader: DefaultCSRFHeader,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach decorates d in place and returns it. State-changing methods get the
// CSRF header; bearer mode adds Authorization to every request. Headers are
// set, not appended, so a replay never carries a stale token.
func (a *Accessor) Attach(d *transport.Descriptor) *transport.Descriptor {
	if d == nil {
		return d
	}
	if d.StateChanging() {
		if tok := a.CSRFToken(); tok != "" {
			d.SetHeader(a.csrfHeader, tok)
		} else if d.Header != nil {
			d.Header.Del(a.csrfHeader)
		}
	}
	if a.bearer {
		a.mu.RLock()
		access := a.access
		a.mu.RUnlock()
		if access != "" {
			d.SetHeader("Authorization", "Bearer "+access)
		}
	}
	return d
}

// CSRFToken returns the readable CSRF cookie value for the base URL, or "".
func (a *Accessor) CSRFToken() string {
	if a.jar == nil || a.base == nil {
		return ""
	}
	for _, c := range a.jar.Cookies(a.base) {
		if c.Name == a.csrfCookie {
			return strings.TrimSpace(c.Value)
		}
	}
	return ""
}

// CSRFHeader returns the header name the accessor writes.
func (a *Accessor) CSRFHeader() string { return a.csrfHeader }

// MarkActive records a successful login or renewal.
func (a *Accessor) MarkActive(ctx context.Context) { a.write(ctx, true) }

// MarkInactive records logout, renewal failure or escalation.
func (a *Accessor) MarkInactive(ctx context.Context) {
	a.write(ctx, false)
	a.mu.Lock()
	a.access, a.refresh = "", ""
	a.mu.Unlock()
}

func (a *Accessor) write(ctx context.Context, active bool) {
	if err := a.flag.Set(context.WithoutCancel(ctx), active); err != nil {
		a.log.Warn("credential.flag.write_failed", "active", active, "err", err)
	}
}

// Active reads the persisted flag. Read errors count as inactive.
func (a *Accessor) Active(ctx context.Context) bool {
	v, err := a.flag.Get(ctx)
	if err != nil {
		a.log.Warn("credential.flag.read_failed", "err", err)
		return false
	}
	return v
}

// CaptureTokens stores tokens from a login or refresh response body
// ({"session":{"access_token":...,"refresh_token":...}}). It is a no-op
// outside bearer mode.
func (a *Accessor) CaptureTokens(body []byte) {
	if !a.bearer || !gjson.ValidBytes(body) {
		return
	}
	access := gjson.GetBytes(body, "session.access_token").String()
	refresh := gjson.GetBytes(body, "session.refresh_token").String()

	a.mu.Lock()
	defer a.mu.Unlock()
	if access != "" {
		a.access = access
	}
	if refresh != "" {
		a.refresh = refresh
	}
}

// RefreshPayload is the body for the refresh call. Cookie transport sends no
// body at all; bearer mode sends the captured refresh token.
func (a *Accessor) RefreshPayload() map[string]string {
	if !a.bearer {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return map[string]string{"platform": "native", "refresh_token": a.refresh}
}

// Platform reports the platform string sent on login and refresh.
func (a *Accessor) Platform() string {
	if a.bearer {
		return "native"
	}
	return "web"
}
