package devserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Argon2 = Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	t    *testing.T
	srv  *Server
	http *httptest.Server
	c    *http.Client
	base *url.URL
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv, err := New(testConfig(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("jar: %v", err)
	}
	base, _ := url.Parse(ts.URL)
	return &harness{t: t, srv: srv, http: ts, c: &http.Client{Jar: jar}, base: base}
}

func (h *harness) cookie(name string) string {
	for _, c := range h.c.Jar.Cookies(h.base) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// do sends a JSON request. CSRF is attached when csrf is true; bearer, when
// non-empty, becomes the Authorization header.
func (h *harness) do(method, path string, body any, csrf bool, bearer string) (int, []byte) {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.http.URL+path, rd)
	if err != nil {
		h.t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if csrf {
		req.Header.Set(h.srv.cfg.CSRFHeader, h.cookie(h.srv.cfg.CSRFCookie))
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := h.c.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func (h *harness) signup(username string, platform string) authResponse {
	h.t.Helper()
	status, body := h.do(http.MethodPost, "/auth/register", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse battery",
		"platform": platform,
	}, false, "")
	if status != http.StatusCreated {
		h.t.Fatalf("register status=%d body=%s", status, body)
	}
	var out authResponse
	if err := json.Unmarshal(body, &out); err != nil {
		h.t.Fatalf("decode: %v", err)
	}
	return out
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return e.Error.Code
}
