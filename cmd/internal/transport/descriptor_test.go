package transport

import (
	"net/http"
	"testing"
)

func TestDescriptor_MarkRetriedOnce(t *testing.T) {
	t.Parallel()

	d := NewDescriptor(http.MethodGet, "/forums", nil)
	if d.Retried() {
		t.Fatalf("new descriptor must not be retried")
	}
	if !d.MarkRetried() {
		t.Fatalf("first MarkRetried should succeed")
	}
	if d.MarkRetried() {
		t.Fatalf("second MarkRetried should report already retried")
	}
	if !d.Retried() {
		t.Fatalf("Retried()=false after mark")
	}
}

func TestIsStateChanging(t *testing.T) {
	t.Parallel()

	cases := []struct {
		method string
		want   bool
	}{
		{"GET", false},
		{"HEAD", false},
		{"OPTIONS", false},
		{"post", true},
		{"PUT", true},
		{"PATCH", true},
		{" delete ", true},
	}
	for _, tc := range cases {
		if got := IsStateChanging(tc.method); got != tc.want {
			t.Fatalf("IsStateChanging(%q)=%v want=%v", tc.method, got, tc.want)
		}
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	cases := map[int]string{0: "network_error", 204: "2xx", 302: "3xx", 401: "4xx", 503: "5xx", 42: "other"}
	for status, want := range cases {
		if got := StatusClass(status); got != want {
			t.Fatalf("StatusClass(%d)=%q want=%q", status, got, want)
		}
	}
}

func TestHTTPError_NonJSONBody(t *testing.T) {
	t.Parallel()

	e := &HTTPError{Method: "GET", Path: "/x", Status: 502, Body: []byte("<html>bad gateway</html>")}
	if e.Code() != "" || e.Message() != "" {
		t.Fatalf("expected empty code/message for non-json body")
	}
	if got := UserMessage(e); got != http.StatusText(502) {
		t.Fatalf("UserMessage=%q", got)
	}
}
