package devserver

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"wayfarer/cmd/internal/ids"
	"wayfarer/cmd/internal/realtime"
)

const (
	platformWeb    = "web"
	platformNative = "native"
)

var (
	errSessionNotActive = errors.New("session not active")
	errRefreshReuse     = errors.New("refresh token reuse detected")
)

type registerRequest struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"display_name,omitempty"`
	Platform    string  `json:"platform,omitempty"`
}

type loginRequest struct {
	Username   *string `json:"username,omitempty"`
	Email      *string `json:"email,omitempty"`
	Password   string  `json:"password"`
	RememberMe bool    `json:"remember_me"`
	Platform   string  `json:"platform,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	Platform     string `json:"platform,omitempty"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"display_name,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type authResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

func toUserResponse(u *user) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       append([]string(nil), u.Roles...),
		CreatedAt:   u.CreatedAt,
	}
}

func normalizePlatform(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case platformNative, "ios", "android", "desktop":
		return platformNative
	default:
		return platformWeb
	}
}

// CreateUser registers an account directly, for seeding.
func (s *Server) CreateUser(username, email, password string) (string, error) {
	u, err := s.createUser(registerRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

var errConflict = errors.New("username or email already registered")

func (s *Server) createUser(req registerRequest) (*user, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || email == "" {
		return nil, errors.New("username and email are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errors.New("invalid email")
	}
	if err := checkPasswordPolicy(s.cfg, req.Password); err != nil {
		return nil, err
	}
	hash, err := hashPassword(s.cfg.Argon2, req.Password)
	if err != nil {
		return nil, err
	}

	u := &user{
		ID:           ids.Make(),
		Username:     username,
		Email:        email,
		DisplayName:  req.DisplayName,
		Roles:        []string{"member"},
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUsername[username]; ok {
		return nil, errConflict
	}
	if _, ok := s.byEmail[email]; ok {
		return nil, errConflict
	}
	s.users[u.ID] = u
	s.byUsername[username] = u.ID
	s.byEmail[email] = u.ID
	return u, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, true, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	u, err := s.createUser(req)
	switch {
	case errors.Is(err, errConflict):
		s.metrics.logins.WithLabelValues("conflict").Inc()
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	case err != nil:
		s.metrics.logins.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.startSession(w, u, normalizePlatform(req.Platform))
	if err != nil {
		s.log.Error("auth.register.session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	s.logins.Add(1)
	s.metrics.logins.WithLabelValues("registered").Inc()
	s.log.Info("auth.register.ok", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, true, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Password) == "" || (req.Username == nil) == (req.Email == nil) {
		writeError(w, http.StatusBadRequest, "invalid_request", "exactly one of username/email and a password are required")
		return
	}

	s.mu.RLock()
	var id string
	if req.Username != nil {
		id = s.byUsername[strings.ToLower(strings.TrimSpace(*req.Username))]
	} else {
		id = s.byEmail[strings.ToLower(strings.TrimSpace(*req.Email))]
	}
	u := s.users[id]
	s.mu.RUnlock()

	if u == nil {
		_, _ = verifyPassword(s.cfg.Argon2, s.dummyHash, req.Password)
		s.metrics.logins.WithLabelValues("invalid_credentials").Inc()
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if ok, err := verifyPassword(s.cfg.Argon2, u.PasswordHash, req.Password); err != nil || !ok {
		s.metrics.logins.WithLabelValues("invalid_credentials").Inc()
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	resp, err := s.startSession(w, u, normalizePlatform(req.Platform))
	if err != nil {
		s.log.Error("auth.login.session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	s.logins.Add(1)
	s.metrics.logins.WithLabelValues("ok").Inc()
	s.log.Info("auth.login.ok", "user_id", u.ID, "session_id", resp.Session.SessionID)
	writeJSON(w, http.StatusOK, resp)
}

// startSession creates a session and delivers its tokens: cookies for web,
// response body for native.
func (s *Server) startSession(w http.ResponseWriter, u *user, platform string) (authResponse, error) {
	refresh, err := opaqueToken(32)
	if err != nil {
		return authResponse{}, err
	}
	now := time.Now().UTC()
	sess := &session{
		ID:          ids.Make(),
		UserID:      u.ID,
		Platform:    platform,
		RefreshHash: s.hasher.hash(refresh),
		RefreshExp:  now.Add(s.cfg.RefreshTTL),
		CreatedAt:   now,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.byRefresh[sess.RefreshHash] = sess.ID
	s.mu.Unlock()

	out, err := s.deliver(w, sess, refresh, now)
	if err != nil {
		return authResponse{}, err
	}
	return authResponse{User: toUserResponse(u), Session: out}, nil
}

func (s *Server) deliver(w http.ResponseWriter, sess *session, refresh string, now time.Time) (sessionResponse, error) {
	access, accessExp := s.tokens.issue(sess.UserID, sess.ID, s.generation.Load(), now)
	out := sessionResponse{
		SessionID:        sess.ID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.RefreshExp,
	}
	if sess.Platform == platformWeb {
		if err := s.setWebSessionCookies(w, access, accessExp, refresh, sess.RefreshExp); err != nil {
			return sessionResponse{}, err
		}
		return out, nil
	}
	out.AccessToken = access
	out.RefreshToken = refresh
	return out, nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	if gate := s.refreshGate(); gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, true, &req); err != nil {
			s.refreshFailed("invalid_json")
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	token := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if c := cookieValue(r, s.cfg.RefreshCookie); c != "" && token == "" {
		token, fromCookie = c, true
	}
	if token == "" {
		s.refreshFailed("missing")
		writeError(w, http.StatusUnauthorized, "session_not_active", "refresh token is required")
		return
	}
	if fromCookie && !s.csrfDoubleSubmitValid(r) {
		s.refreshFailed("csrf")
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}
	if s.failRefresh.Load() {
		s.refreshFailed("forced")
		writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		return
	}

	now := time.Now().UTC()
	sess, next, err := s.rotate(token, now)
	switch {
	case errors.Is(err, errRefreshReuse):
		s.refreshFailed("reuse")
		s.log.Warn("auth.refresh.reuse_detected")
		writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
		return
	case err != nil:
		s.refreshFailed("inactive")
		writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		return
	}

	out, err := s.deliver(w, &sess, next, now)
	if err != nil {
		s.log.Error("auth.refresh.deliver.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	s.metrics.refreshes.WithLabelValues("ok").Inc()
	s.log.Info("auth.refresh.ok", "session_id", sess.ID)
	writeJSON(w, http.StatusOK, map[string]any{"session": out})
}

func (s *Server) refreshFailed(reason string) {
	s.refreshFailures.Add(1)
	s.metrics.refreshes.WithLabelValues(reason).Inc()
}

// rotate exchanges a refresh token for a new one. Presenting a token that
// was already rotated revokes the whole session.
func (s *Server) rotate(token string, now time.Time) (session, string, error) {
	hash := s.hasher.hash(token)
	next, err := opaqueToken(32)
	if err != nil {
		return session{}, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sid, ok := s.retired[hash]; ok {
		if sess := s.sessions[sid]; sess != nil {
			sess.Revoked = true
			delete(s.byRefresh, sess.RefreshHash)
		}
		return session{}, "", errRefreshReuse
	}
	sess := s.sessions[s.byRefresh[hash]]
	if !sess.active(now) {
		return session{}, "", errSessionNotActive
	}

	delete(s.byRefresh, hash)
	s.retired[hash] = sess.ID
	sess.RefreshHash = s.hasher.hash(next)
	s.byRefresh[sess.RefreshHash] = sess.ID
	return *sess, next, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sid, viaCookie := s.sessionForLogout(r)
	if sid == "" {
		s.deny(w, "no_session", "authentication required")
		return
	}
	if viaCookie && !s.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	s.mu.Lock()
	if sess := s.sessions[sid]; sess != nil {
		sess.Revoked = true
		delete(s.byRefresh, sess.RefreshHash)
	}
	s.mu.Unlock()

	s.clearWebSessionCookies(w)
	s.log.Info("auth.logout.ok", "session_id", sid)
	w.WriteHeader(http.StatusNoContent)
}

// sessionForLogout accepts a valid access token or, when that has expired,
// the refresh cookie, so logout still works after access expiry.
func (s *Server) sessionForLogout(r *http.Request) (string, bool) {
	if claims, viaCookie, err := s.authenticate(r); err == nil {
		return claims.SessionID, viaCookie
	}
	tok := cookieValue(r, s.cfg.RefreshCookie)
	if tok == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byRefresh[s.hasher.hash(tok)], true
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireAuth(w, r, true)
	if !ok {
		return
	}
	s.mu.Lock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == claims.UserID && !sess.Revoked {
			sess.Revoked = true
			delete(s.byRefresh, sess.RefreshHash)
			n++
		}
	}
	s.mu.Unlock()

	s.clearWebSessionCookies(w)
	s.log.Info("auth.logout_all.ok", "user_id", claims.UserID, "sessions", n)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireAuth(w, r, false)
	if !ok {
		return
	}
	s.mu.RLock()
	u := s.users[claims.UserID]
	s.mu.RUnlock()
	if u == nil {
		s.deny(w, "not_found", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(u)})
}

// authenticate resolves the access token from the Authorization header or
// the access cookie. viaCookie reports the cookie transport.
func (s *Server) authenticate(r *http.Request) (claims accessClaims, viaCookie bool, err error) {
	tok := bearerToken(r)
	if tok == "" {
		tok = cookieValue(r, s.cfg.AccessCookie)
		viaCookie = true
	}
	if tok == "" {
		return accessClaims{}, false, errInvalidToken
	}
	now := time.Now().UTC()
	claims, err = s.tokens.verify(tok, now)
	if err != nil {
		return accessClaims{}, viaCookie, err
	}
	if claims.Generation != s.generation.Load() {
		return accessClaims{}, viaCookie, errInvalidToken
	}
	s.mu.RLock()
	sess := s.sessions[claims.SessionID]
	s.mu.RUnlock()
	if !sess.active(now) {
		return accessClaims{}, viaCookie, errSessionNotActive
	}
	return claims, viaCookie, nil
}

// requireAuth answers 401 for a missing or stale access token, then 403 for
// a state-changing cookie request without a matching CSRF header.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request, stateChanging bool) (accessClaims, bool) {
	claims, viaCookie, err := s.authenticate(r)
	if err != nil {
		reason := "token_invalid"
		if errors.Is(err, errSessionNotActive) {
			reason = "session_not_active"
		}
		s.deny(w, reason, "authentication required")
		return accessClaims{}, false
	}
	if stateChanging && viaCookie && !s.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return accessClaims{}, false
	}
	return claims, true
}

func (s *Server) deny(w http.ResponseWriter, reason, msg string) {
	s.unauthorized.Add(1)
	s.metrics.denied.WithLabelValues(reason).Inc()
	writeError(w, http.StatusUnauthorized, "unauthorized", msg)
}

func (s *Server) authenticateUpgrade(r *http.Request) (realtime.Identity, error) {
	claims, _, err := s.authenticate(r)
	if err != nil {
		s.unauthorized.Add(1)
		s.metrics.denied.WithLabelValues("ws").Inc()
		return realtime.Identity{}, err
	}
	return realtime.Identity{UserID: claims.UserID, SessionID: claims.SessionID}, nil
}
