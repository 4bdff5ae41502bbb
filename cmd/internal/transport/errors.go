package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// NetworkMessage is the generic connectivity message surfaced to users.
const NetworkMessage = "unable to reach server, check your connection"

var (
	// ErrNoResponse marks failures where no HTTP response reached the client
	// (offline, DNS, TLS, timeout).
	ErrNoResponse = errors.New("no response from server")

	// ErrHTTPStatus marks non-2xx responses.
	ErrHTTPStatus = errors.New("http error status")

	// ErrInvalidDescriptor is returned for descriptors that cannot be sent.
	ErrInvalidDescriptor = errors.New("invalid request descriptor")
)

// NoResponseError reports a request that never produced a response.
type NoResponseError struct {
	Method string
	Path   string
	Err    error
}

func (e *NoResponseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, ErrNoResponse)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Method, e.Path, ErrNoResponse, e.Err)
}

func (e *NoResponseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNoResponse}
	}
	return []error{ErrNoResponse, e.Err}
}

// HTTPError is a non-2xx response. Body holds at most the dispatcher's
// response limit.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Header http.Header
	Body   []byte
}

func (e *HTTPError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: status %d", e.Method, e.Path, e.Status)
	if code := e.Code(); code != "" {
		b.WriteString(": ")
		b.WriteString(code)
	}
	if msg := e.Message(); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

func (e *HTTPError) Unwrap() error { return ErrHTTPStatus }

// Code returns error.code from the server's JSON error envelope, if any.
func (e *HTTPError) Code() string {
	return envelopeField(e.Body, "error.code")
}

// Message returns error.message from the server's JSON error envelope, if any.
func (e *HTTPError) Message() string {
	return envelopeField(e.Body, "error.message")
}

// AuthFailure reports whether the status is 401, the only renewal-eligible status.
func (e *HTTPError) AuthFailure() bool {
	return e != nil && e.Status == http.StatusUnauthorized
}

func envelopeField(body []byte, path string) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	return strings.TrimSpace(gjson.GetBytes(body, path).String())
}

// IsAuthFailure reports whether err carries a 401 response.
func IsAuthFailure(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.AuthFailure()
}

// IsNoResponse reports whether err is a connectivity failure.
func IsNoResponse(err error) bool { return errors.Is(err, ErrNoResponse) }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// UserMessage maps err to a short message suitable for a toast or CLI output.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsNoResponse(err) {
		return NetworkMessage
	}
	var he *HTTPError
	if errors.As(err, &he) {
		if msg := he.Message(); msg != "" {
			return msg
		}
		return http.StatusText(he.Status)
	}
	return err.Error()
}
