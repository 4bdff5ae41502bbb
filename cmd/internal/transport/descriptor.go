package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"wayfarer/cmd/internal/ids"
)

// Descriptor describes one logical request. It is reusable: the same
// Descriptor can be sent again after a session renewal.
//
// The retried marker is owned by the goroutine driving the request; a
// Descriptor must not be shared between concurrent callers.
type Descriptor struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Payload any

	// ID is sent as X-Request-Id. Replays keep the same ID.
	ID string

	retried bool
}

// NewDescriptor builds a Descriptor with a fresh request ID.
func NewDescriptor(method, path string, payload any) *Descriptor {
	return &Descriptor{
		Method:  strings.ToUpper(strings.TrimSpace(method)),
		Path:    path,
		Header:  make(http.Header),
		Payload: payload,
		ID:      ids.Make(),
	}
}

// Retried reports whether the descriptor was already escalated to
// "retry after renewal".
func (d *Descriptor) Retried() bool {
	return d != nil && d.retried
}

// MarkRetried sets the retried marker. It returns false when the marker was
// already set, in which case the caller must not retry again.
func (d *Descriptor) MarkRetried() bool {
	if d == nil || d.retried {
		return false
	}
	d.retried = true
	return true
}

// StateChanging reports whether the method mutates server state and therefore
// needs a CSRF token.
func (d *Descriptor) StateChanging() bool {
	if d == nil {
		return false
	}
	return IsStateChanging(d.Method)
}

// SetHeader sets a header, allocating the map on first use.
func (d *Descriptor) SetHeader(key, value string) {
	if d.Header == nil {
		d.Header = make(http.Header)
	}
	d.Header.Set(key, value)
}

// IsStateChanging reports whether method is a create/update/delete style verb.
func IsStateChanging(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func (d *Descriptor) validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil", ErrInvalidDescriptor)
	}
	if strings.TrimSpace(d.Method) == "" {
		return fmt.Errorf("%w: missing method", ErrInvalidDescriptor)
	}
	if !strings.HasPrefix(d.Path, "/") {
		return fmt.Errorf("%w: path must start with '/': %q", ErrInvalidDescriptor, d.Path)
	}
	return nil
}

// body encodes the payload. Every call returns a fresh reader so a replay
// never sees a drained body.
func (d *Descriptor) body() (io.Reader, string, error) {
	switch p := d.Payload.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(p), "", nil
	case json.RawMessage:
		return bytes.NewReader(p), "application/json", nil
	case string:
		return strings.NewReader(p), "", nil
	case io.Reader:
		return nil, "", fmt.Errorf("%w: streaming payloads cannot be replayed", ErrInvalidDescriptor)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, "", fmt.Errorf("encode payload: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	}
}
