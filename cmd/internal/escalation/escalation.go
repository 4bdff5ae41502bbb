// Package escalation handles an irrecoverable session loss: it clears the
// local session, sends the user to the login view and tells them why.
package escalation

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
)

const (
	DefaultLoginView = "/login"
	DefaultMessage   = "Your session has expired. Please sign in again."

	// ExpiredParam is the query indicator added to the login view.
	ExpiredParam = "expired"
)

// Event describes one failed renewal episode.
type Event struct {
	// Episode identifies the renewal episode. Zero marks an ad-hoc escalation
	// that is not tied to an episode and always runs.
	Episode uint64
	Cause   error
}

// SessionClearer drops the persisted session flag.
type SessionClearer interface {
	MarkInactive(ctx context.Context)
}

// Navigator reports and changes the current view.
type Navigator interface {
	CurrentView() string
	Navigate(ctx context.Context, target string) error
}

// Notifier shows a one-off message to the user.
type Notifier interface {
	Notify(ctx context.Context, message string, cause error)
}

// Escalator runs at most once per episode.
type Escalator struct {
	session   SessionClearer
	nav       Navigator
	notifier  Notifier
	loginView string
	message   string
	log       *slog.Logger

	mu   sync.Mutex
	last uint64
}

// Option customises an Escalator.
type Option func(*Escalator)

func WithNavigator(n Navigator) Option {
	return func(e *Escalator) {
		if n != nil {
			e.nav = n
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Escalator) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLoginView sets the view path that counts as "already on login".
func WithLoginView(path string) Option {
	return func(e *Escalator) {
		if path = strings.TrimSpace(path); path != "" {
			e.loginView = path
		}
	}
}

func WithMessage(msg string) Option {
	return func(e *Escalator) {
		if msg = strings.TrimSpace(msg); msg != "" {
			e.message = msg
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Escalator) {
		if l != nil {
			e.log = l
		}
	}
}

// New returns an Escalator. Without a Navigator it logs the redirect; without
// a Notifier it logs the message.
func New(session SessionClearer, opts ...Option) *Escalator {
	e := &Escalator{
		session:   session,
		loginView: DefaultLoginView,
		message:   DefaultMessage,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.nav == nil {
		e.nav = NewLogNavigator(e.log, "")
	}
	if e.notifier == nil {
		e.notifier = SlogNotifier{Log: e.log}
	}
	return e
}

// LoginTarget is the navigation target used on escalation.
func (e *Escalator) LoginTarget() string {
	return e.loginView + "?" + url.Values{ExpiredParam: {"1"}}.Encode()
}

// Escalate clears the session, redirects to login unless already there, and
// notifies the user. It reports whether it acted; a repeated or older episode
// is a no-op.
func (e *Escalator) Escalate(ctx context.Context, ev Event) bool {
	e.mu.Lock()
	if ev.Episode != 0 {
		if ev.Episode <= e.last {
			e.mu.Unlock()
			e.log.Debug("escalation.skip", "episode", ev.Episode, "last", e.last)
			return false
		}
		e.last = ev.Episode
	}
	e.mu.Unlock()

	if e.session != nil {
		e.session.MarkInactive(ctx)
	}

	current := e.nav.CurrentView()
	if isView(current, e.loginView) {
		e.log.Info("escalation.already_on_login", "episode", ev.Episode, "view", current)
	} else {
		target := e.LoginTarget()
		if err := e.nav.Navigate(ctx, target); err != nil {
			e.log.Error("escalation.redirect_failed", "episode", ev.Episode, "target", target, "err", err)
		} else {
			e.log.Info("escalation.redirect", "episode", ev.Episode, "from", current, "target", target)
		}
	}

	e.notifier.Notify(ctx, e.message, ev.Cause)
	return true
}

func isView(current, view string) bool {
	if current == "" {
		return false
	}
	if i := strings.IndexAny(current, "?#"); i >= 0 {
		current = current[:i]
	}
	return strings.TrimRight(current, "/") == strings.TrimRight(view, "/")
}
