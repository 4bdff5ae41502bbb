package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wayfarer/cmd/internal/devserver"
	"wayfarer/cmd/internal/renewal"
)

type cliHarness struct {
	t     *testing.T
	srv   *devserver.Server
	url   string
	state string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	cfg := devserver.DefaultConfig()
	cfg.Argon2 = devserver.Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	srv, err := devserver.New(cfg, devserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("devserver.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &cliHarness{t: t, srv: srv, url: ts.URL, state: t.TempDir()}
}

// run executes one CLI invocation, as a separate process would.
func (h *cliHarness) run(stdin string, args ...string) (string, string, error) {
	h.t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--server", h.url, "--state-dir", h.state, "--log-level", "error"}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func (h *cliHarness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	out, errOut, err := h.run(stdin, args...)
	if err != nil {
		h.t.Fatalf("wayfarer %v: %v\nstderr: %s", args, err, errOut)
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	h := newCLIHarness(t)

	out := h.mustRun("correct horse battery\n", "register", "-u", "ada", "-e", "ada@example.com")
	if !strings.Contains(out, `"username": "ada"`) {
		t.Fatalf("register output: %s", out)
	}
	if _, err := os.Stat(filepath.Join(h.state, "default", "cookies.json")); err != nil {
		t.Fatalf("cookie file not persisted: %v", err)
	}

	out = h.mustRun("", "status")
	if !strings.Contains(out, "active") || !strings.Contains(out, "ada") {
		t.Fatalf("status output: %s", out)
	}

	out = h.mustRun("", "post", "/forums", "-d", `{"title":"Andes"}`, "-o", "yaml")
	if !strings.Contains(out, "title: Andes") {
		t.Fatalf("post output: %s", out)
	}
	out = h.mustRun("", "get", "/forums", "-q", "limit=1", "-o", "raw")
	if !strings.Contains(out, `"Andes"`) {
		t.Fatalf("get output: %s", out)
	}

	out = h.mustRun("", "logout")
	if !strings.Contains(out, "signed out") {
		t.Fatalf("logout output: %s", out)
	}
	out = h.mustRun("", "status")
	if !strings.Contains(out, "signed out") {
		t.Fatalf("status after logout: %s", out)
	}
}

func TestLoginWithEmail(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("correct horse battery\n", "register", "-u", "grace", "-e", "grace@example.com")
	h.mustRun("", "logout")

	out := h.mustRun("correct horse battery\n", "login", "-e", "grace@example.com")
	if !strings.Contains(out, "grace") {
		t.Fatalf("login output: %s", out)
	}

	if _, _, err := h.run("wrong password\n", "login", "-u", "grace"); err == nil || !strings.Contains(err.Error(), "invalid_credentials") {
		t.Fatalf("bad login err=%v", err)
	}
	if _, _, err := h.run("pw\n", "login"); err == nil {
		t.Fatalf("login without identifier should fail")
	}
}

func TestFetchSharesOneRenewal(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("correct horse battery\n", "register", "-u", "linus", "-e", "linus@example.com")

	h.srv.ExpireAccess()
	release := h.srv.HoldRefresh()
	defer release()
	before := h.srv.Stats().Unauthorized

	// Hold the renewal until every request has been rejected once.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) && h.srv.Stats().Unauthorized-before < 9 {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	out := h.mustRun("", "fetch", "/forums", "/posts", "/travels", "--repeat", "3")
	if !strings.Contains(out, "9 requests, 0 failed, 1 renewals") {
		t.Fatalf("fetch output: %s", out)
	}
	if st := h.srv.Stats(); st.RefreshCalls != 1 {
		t.Fatalf("refresh calls=%d want 1", st.RefreshCalls)
	}
}

func TestExpiredSessionAsksForLogin(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("correct horse battery\n", "register", "-u", "edsger", "-e", "edsger@example.com")

	h.srv.ExpireAccess()
	h.srv.FailRefresh(true)

	_, errOut, err := h.run("", "get", "/forums")
	if !errors.Is(err, renewal.ErrRenewalFailed) {
		t.Fatalf("err=%v want ErrRenewalFailed", err)
	}
	if !strings.Contains(errOut, "wayfarer login") {
		t.Fatalf("stderr should ask for login: %q", errOut)
	}

	out := h.mustRun("", "status")
	if !strings.Contains(out, "signed out") {
		t.Fatalf("status after escalation: %s", out)
	}
}

func TestRequestErrorsCarryServerCode(t *testing.T) {
	h := newCLIHarness(t)
	h.mustRun("correct horse battery\n", "register", "-u", "ken", "-e", "ken@example.com")

	_, _, err := h.run("", "get", "/nope/123")
	if err == nil || !strings.Contains(err.Error(), "not_found") {
		t.Fatalf("err=%v want not_found", err)
	}
	if st := h.srv.Stats(); st.RefreshCalls != 0 {
		t.Fatalf("refresh calls=%d want 0", st.RefreshCalls)
	}
}

func TestConfigFileSuppliesServer(t *testing.T) {
	h := newCLIHarness(t)
	if err := os.WriteFile(filepath.Join(h.state, defaultConfigFile), []byte("server: "+h.url+"\nprofile: work\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--state-dir", h.state, "status"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), h.url) || !strings.Contains(out.String(), "work") {
		t.Fatalf("status output: %s", out.String())
	}
}

func TestWriteBody(t *testing.T) {
	t.Parallel()

	body := []byte(`{"items":[{"id":"1","title":"Andes"}]}`)
	cases := []struct {
		format string
		want   string
	}{
		{outputJSON, "\"title\": \"Andes\""},
		{outputYAML, "title: Andes"},
		{outputRaw, string(body)},
	}
	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			if err := writeBody(&buf, tc.format, body); err != nil {
				t.Fatalf("writeBody: %v", err)
			}
			if !strings.Contains(buf.String(), tc.want) {
				t.Fatalf("output %q missing %q", buf.String(), tc.want)
			}
		})
	}

	var buf bytes.Buffer
	if err := writeBody(&buf, "xml", body); err == nil {
		t.Fatalf("unknown format accepted")
	}
	buf.Reset()
	if err := writeBody(&buf, outputYAML, []byte("plain text")); err != nil || buf.String() != "plain text\n" {
		t.Fatalf("non-JSON body: %q err=%v", buf.String(), err)
	}
}

func TestParseQueryAndData(t *testing.T) {
	t.Parallel()

	q, err := parseQuery([]string{"limit=2", "tag=a", "tag=b", "empty="})
	if err != nil {
		t.Fatalf("parseQuery: %v", err)
	}
	if q.Get("limit") != "2" || len(q["tag"]) != 2 || !q.Has("empty") {
		t.Fatalf("query=%v", q)
	}
	if _, err := parseQuery([]string{"novalue"}); err == nil {
		t.Fatalf("expected error for missing '='")
	}

	if _, err := readData(`{"a":1}`, nil); err != nil {
		t.Fatalf("inline data: %v", err)
	}
	if _, err := readData(`{bad`, nil); err == nil {
		t.Fatalf("invalid JSON accepted")
	}
	raw, err := readData("-", strings.NewReader(`[1,2]`))
	if err != nil || string(raw) != "[1,2]" {
		t.Fatalf("stdin data=%s err=%v", raw, err)
	}
	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, []byte(`{"f":true}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if raw, err := readData("@"+path, nil); err != nil || string(raw) != `{"f":true}` {
		t.Fatalf("file data=%s err=%v", raw, err)
	}
}
