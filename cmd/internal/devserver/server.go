// Package devserver is an in-memory backend speaking the wayfarer API: the
// cookie and bearer auth protocol with rotating refresh tokens, generic
// resource collections, and the realtime websocket. It backs local
// development, the smoke tool and end-to-end tests of the request layer.
package devserver

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"wayfarer/cmd/internal/app"
	"wayfarer/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type user struct {
	ID           string
	Username     string
	Email        string
	DisplayName  *string
	Roles        []string
	PasswordHash string
	CreatedAt    time.Time
}

type session struct {
	ID          string
	UserID      string
	Platform    string
	RefreshHash string
	RefreshExp  time.Time
	Revoked     bool
	CreatedAt   time.Time
}

func (s *session) active(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.RefreshExp)
}

// Stats are counters tests assert on.
type Stats struct {
	RefreshCalls    int64
	RefreshFailures int64
	Logins          int64
	Unauthorized    int64
	ActiveSessions  int
}

// Server is the development backend. Its zero value is not usable; call New.
type Server struct {
	cfg     Config
	log     *slog.Logger
	tokens  *accessTokens
	hasher  refreshHasher
	hub     *realtime.Hub
	gateway *realtime.Gateway
	reg     *prometheus.Registry
	metrics *metrics

	dummyHash string

	// generation is embedded in access tokens; bumping it expires them all.
	generation  atomic.Int64
	failRefresh atomic.Bool

	holdMu sync.Mutex
	hold   chan struct{}

	refreshCalls    atomic.Int64
	refreshFailures atomic.Int64
	logins          atomic.Int64
	unauthorized    atomic.Int64

	mu         sync.RWMutex
	users      map[string]*user
	byUsername map[string]string
	byEmail    map[string]string
	sessions   map[string]*session
	byRefresh  map[string]string
	retired    map[string]string
	items      map[string]map[string]map[string]any
}

// Option customises New.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRegistry exposes the server's collectors on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.reg = reg
		}
	}
}

// New builds a server from cfg.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:        cfg,
		log:        slog.Default(),
		reg:        prometheus.NewRegistry(),
		users:      make(map[string]*user),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		sessions:   make(map[string]*session),
		byRefresh:  make(map[string]string),
		retired:    make(map[string]string),
		items:      make(map[string]map[string]map[string]any, len(cfg.Collections)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, c := range cfg.Collections {
		s.items[c] = make(map[string]map[string]any)
	}

	var err error
	if s.tokens, err = newAccessTokens(cfg); err != nil {
		return nil, err
	}
	if s.hasher, err = newRefreshHasher(cfg.TokenHMACKey); err != nil {
		return nil, err
	}
	if s.dummyHash, err = hashPassword(cfg.Argon2, "wayfarer-timing-equaliser"); err != nil {
		return nil, err
	}
	if s.metrics, err = newMetrics(s.reg, func() float64 { return float64(s.activeSessions()) }); err != nil {
		return nil, err
	}

	s.hub = realtime.NewHub(s.log)
	s.gateway, err = realtime.NewGateway(s.hub, s.authenticateUpgrade,
		realtime.WithGatewayLogger(s.log),
		realtime.WithOriginPatterns(cfg.WSOriginPatterns...),
		realtime.WithEventRate(cfg.WSEventRate, cfg.WSEventBurst),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	mux.Handle("GET /ws", s.gateway)

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("POST /auth/logout_all", s.handleLogoutAll)
	mux.HandleFunc("GET /users/me", s.handleMe)

	mux.HandleFunc("GET /{collection}", s.handleList)
	mux.HandleFunc("POST /{collection}", s.handleCreate)
	mux.HandleFunc("GET /{collection}/{id}", s.handleGet)
	mux.HandleFunc("PUT /{collection}/{id}", s.handleReplace)
	mux.HandleFunc("PATCH /{collection}/{id}", s.handlePatch)
	mux.HandleFunc("DELETE /{collection}/{id}", s.handleDelete)

	return app.WithRequestLogging(app.WithRecover(mux, s.log), s.log)
}

// Hub exposes the realtime hub.
func (s *Server) Hub() *realtime.Hub { return s.hub }

// Registry is the registry /metrics serves.
func (s *Server) Registry() *prometheus.Registry { return s.reg }

// ExpireAccess invalidates every access token issued so far. Refresh tokens
// stay valid.
func (s *Server) ExpireAccess() {
	gen := s.generation.Add(1)
	s.log.Info("devserver.access.expired", "generation", gen)
}

// FailRefresh makes every refresh call answer 401 while on.
func (s *Server) FailRefresh(on bool) { s.failRefresh.Store(on) }

// HoldRefresh parks refresh calls until release is called. release is
// idempotent.
func (s *Server) HoldRefresh() (release func()) {
	s.holdMu.Lock()
	if s.hold == nil {
		s.hold = make(chan struct{})
	}
	ch := s.hold
	s.holdMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.holdMu.Lock()
			if s.hold == ch {
				s.hold = nil
			}
			s.holdMu.Unlock()
			close(ch)
		})
	}
}

func (s *Server) refreshGate() <-chan struct{} {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()
	return s.hold
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		RefreshCalls:    s.refreshCalls.Load(),
		RefreshFailures: s.refreshFailures.Load(),
		Logins:          s.logins.Load(),
		Unauthorized:    s.unauthorized.Load(),
		ActiveSessions:  s.activeSessions(),
	}
}

func (s *Server) activeSessions() int {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.active(now) {
			n++
		}
	}
	return n
}
