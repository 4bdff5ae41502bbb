package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWebLoginSetsCookiesAndServesMe(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	reg := h.signup("ana", "web")
	if reg.Session.AccessToken != "" || reg.Session.RefreshToken != "" {
		t.Fatalf("web sessions never expose tokens in the body: %+v", reg.Session)
	}
	if h.cookie("wayfarer_csrf") == "" {
		t.Fatalf("csrf cookie missing")
	}

	status, body := h.do(http.MethodGet, "/users/me", nil, false, "")
	if status != http.StatusOK || !strings.Contains(string(body), `"username":"ana"`) {
		t.Fatalf("me status=%d body=%s", status, body)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup("bruno", "web")

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{name: "ok by username", body: map[string]any{"username": "bruno", "password": "correct horse battery"}, status: http.StatusOK},
		{name: "ok by email", body: map[string]any{"email": "BRUNO@example.com", "password": "correct horse battery"}, status: http.StatusOK},
		{name: "bad password", body: map[string]any{"username": "bruno", "password": "nope nope nope"}, status: http.StatusUnauthorized, code: "invalid_credentials"},
		{name: "unknown user", body: map[string]any{"username": "nobody", "password": "correct horse battery"}, status: http.StatusUnauthorized, code: "invalid_credentials"},
		{name: "both identifiers", body: map[string]any{"username": "bruno", "email": "bruno@example.com", "password": "x"}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown field", body: map[string]any{"username": "bruno", "password": "x", "captcha": "1"}, status: http.StatusBadRequest, code: "invalid_json"},
	}
	for _, tc := range cases {
		status, body := h.do(http.MethodPost, "/auth/login", tc.body, false, "")
		if status != tc.status {
			t.Fatalf("%s: status=%d want=%d body=%s", tc.name, status, tc.status, body)
		}
		if tc.code != "" {
			if got := errorCode(t, body); got != tc.code {
				t.Fatalf("%s: code=%q want=%q", tc.name, got, tc.code)
			}
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup("carla", "web")

	status, body := h.do(http.MethodPost, "/auth/register", map[string]any{
		"username": "Carla", "email": "other@example.com", "password": "correct horse battery",
	}, false, "")
	if status != http.StatusConflict {
		t.Fatalf("duplicate username status=%d body=%s", status, body)
	}

	status, _ = h.do(http.MethodPost, "/auth/register", map[string]any{
		"username": "dora", "email": "dora@example.com", "password": "short",
	}, false, "")
	if status != http.StatusBadRequest {
		t.Fatalf("weak password status=%d", status)
	}

	status, _ = h.do(http.MethodPost, "/auth/register", map[string]any{
		"username": "eva", "email": "not-an-email", "password": "correct horse battery",
	}, false, "")
	if status != http.StatusBadRequest {
		t.Fatalf("bad email status=%d", status)
	}
}

func TestExpireAccessThenCookieRefresh(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup("filipa", "web")

	h.srv.ExpireAccess()
	status, _ := h.do(http.MethodGet, "/users/me", nil, false, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expired access status=%d", status)
	}

	oldCSRF := h.cookie("wayfarer_csrf")
	status, body := h.do(http.MethodPost, "/auth/refresh", nil, false, "")
	if status != http.StatusForbidden || errorCode(t, body) != "csrf_invalid" {
		t.Fatalf("refresh without csrf status=%d body=%s", status, body)
	}

	status, body = h.do(http.MethodPost, "/auth/refresh", nil, true, "")
	if status != http.StatusOK {
		t.Fatalf("refresh status=%d body=%s", status, body)
	}
	if h.cookie("wayfarer_csrf") == oldCSRF {
		t.Fatalf("csrf cookie should rotate with the refresh token")
	}

	status, _ = h.do(http.MethodGet, "/users/me", nil, false, "")
	if status != http.StatusOK {
		t.Fatalf("me after refresh status=%d", status)
	}

	st := h.srv.Stats()
	if st.RefreshCalls != 2 || st.RefreshFailures != 1 || st.Unauthorized != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestNativeRefreshRotationAndReuse(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	reg := h.signup("gil", "native")
	if reg.Session.AccessToken == "" || reg.Session.RefreshToken == "" {
		t.Fatalf("native sessions return tokens: %+v", reg.Session)
	}
	first := reg.Session.RefreshToken

	status, body := h.do(http.MethodPost, "/auth/refresh", map[string]string{"platform": "native", "refresh_token": first}, false, "")
	if status != http.StatusOK {
		t.Fatalf("refresh status=%d body=%s", status, body)
	}
	var rotated struct {
		Session sessionResponse `json:"session"`
	}
	if err := json.Unmarshal(body, &rotated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rotated.Session.RefreshToken == "" || rotated.Session.RefreshToken == first {
		t.Fatalf("refresh token not rotated")
	}
	if rotated.Session.SessionID != reg.Session.SessionID || rotated.Session.RefreshExpiresAt.IsZero() {
		t.Fatalf("rotation keeps the session: %+v", rotated.Session)
	}

	status, _ = h.do(http.MethodGet, "/users/me", nil, false, rotated.Session.AccessToken)
	if status != http.StatusOK {
		t.Fatalf("bearer me status=%d", status)
	}

	status, body = h.do(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": first}, false, "")
	if status != http.StatusUnauthorized || errorCode(t, body) != "refresh_reuse_detected" {
		t.Fatalf("reuse status=%d body=%s", status, body)
	}

	status, body = h.do(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": rotated.Session.RefreshToken}, false, "")
	if status != http.StatusUnauthorized || errorCode(t, body) != "session_not_active" {
		t.Fatalf("after reuse the session is revoked: status=%d body=%s", status, body)
	}
	status, _ = h.do(http.MethodGet, "/users/me", nil, false, rotated.Session.AccessToken)
	if status != http.StatusUnauthorized {
		t.Fatalf("revoked session access status=%d", status)
	}
}

func TestFailRefresh(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup("hugo", "web")

	h.srv.FailRefresh(true)
	status, body := h.do(http.MethodPost, "/auth/refresh", nil, true, "")
	if status != http.StatusUnauthorized || errorCode(t, body) != "session_not_active" {
		t.Fatalf("status=%d body=%s", status, body)
	}

	h.srv.FailRefresh(false)
	status, _ = h.do(http.MethodPost, "/auth/refresh", nil, true, "")
	if status != http.StatusOK {
		t.Fatalf("status=%d", status)
	}
}

func TestHoldRefresh(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup("ines", "web")

	release := h.srv.HoldRefresh()
	var (
		wg     sync.WaitGroup
		status int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		status, _ = h.do(http.MethodPost, "/auth/refresh", nil, true, "")
	}()

	deadline := time.Now().Add(5 * time.Second)
	for h.srv.Stats().RefreshCalls == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("refresh never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case <-waitDone(&wg):
		t.Fatalf("refresh completed while held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release()
	wg.Wait()
	if status != http.StatusOK {
		t.Fatalf("status=%d", status)
	}
}

func waitDone(wg *sync.WaitGroup) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}

func TestLogout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup("joana", "web")

	// Access expiry must not prevent logout.
	h.srv.ExpireAccess()
	status, body := h.do(http.MethodPost, "/auth/logout", nil, true, "")
	if status != http.StatusNoContent {
		t.Fatalf("logout status=%d body=%s", status, body)
	}
	if h.cookie("wayfarer_refresh") != "" || h.cookie("wayfarer_access") != "" {
		t.Fatalf("cookies not cleared")
	}
	if n := h.srv.Stats().ActiveSessions; n != 0 {
		t.Fatalf("active sessions=%d", n)
	}

	status, _ = h.do(http.MethodPost, "/auth/logout", nil, true, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("second logout status=%d", status)
	}
}

func TestLogoutAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signup("kiko", "web")
	if id, err := h.srv.CreateUser("other", "other@example.com", "correct horse battery"); err != nil || id == "" {
		t.Fatalf("CreateUser: %q %v", id, err)
	}
	status, _ := h.do(http.MethodPost, "/auth/login", map[string]any{"username": "kiko", "password": "correct horse battery", "platform": "native"}, false, "")
	if status != http.StatusOK {
		t.Fatalf("second login status=%d", status)
	}
	if n := h.srv.Stats().ActiveSessions; n != 2 {
		t.Fatalf("active sessions=%d", n)
	}

	status, _ = h.do(http.MethodPost, "/auth/logout_all", nil, true, "")
	if status != http.StatusNoContent {
		t.Fatalf("logout_all status=%d", status)
	}
	if n := h.srv.Stats().ActiveSessions; n != 0 {
		t.Fatalf("active sessions=%d", n)
	}
}
