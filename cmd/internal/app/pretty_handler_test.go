package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_GroupsAndQuoting(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).With("component", "renewal").WithGroup("ep")
	log.Info("renewal.fail", "id", 4, "err", errors.New("session not active"))

	out := buf.String()
	for _, want := range []string{"[INFO]", "component=renewal", "ep.id=4", `ep.err="session not active"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("dropped")
	log.Warn("kept")

	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "[WARN] msg=kept") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("http.request", "status", 503)

	out := buf.String()
	if !strings.Contains(out, ansiRed+"[ERROR]"+ansiReset) {
		t.Fatalf("level not colored: %q", out)
	}
	if !strings.Contains(out, "status="+ansiRed+"503"+ansiReset) {
		t.Fatalf("status not colored: %q", out)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":        `""`,
		"plain":   "plain",
		"two word": `"two word"`,
		"a=b":     `"a=b"`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestPrettyHandler_SessionEventColors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Info("renewal.start", "episode", 7, "trigger", "/forums")
	log.Warn("escalation.redirect", "episode", 7)
	log.Info("http.request", "path", "/forums")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%q", lines)
	}
	checks := []struct {
		line int
		want string
	}{
		{0, "msg=" + ansiBright + ansiCyan + "renewal.start" + ansiReset},
		{0, "episode=" + ansiMagenta + "7" + ansiReset},
		{0, "trigger=" + ansiCyan + "/forums" + ansiReset},
		{1, "msg=" + ansiBright + ansiYellow + "escalation.redirect" + ansiReset},
		{2, "msg=" + ansiBright + "http.request" + ansiReset},
	}
	for _, c := range checks {
		if !strings.Contains(lines[c.line], c.want) {
			t.Fatalf("line %d missing %q: %q", c.line, c.want, lines[c.line])
		}
	}
}
