package transport

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Response is a completed 2xx exchange with its body fully read.
type Response struct {
	Status     int
	Header     http.Header
	Body       []byte
	Descriptor *Descriptor
}

// Decode unmarshals the JSON body into dst. An empty body leaves dst untouched.
func (r *Response) Decode(dst any) error {
	if r == nil {
		return errors.New("nil response")
	}
	if len(r.Body) == 0 || dst == nil {
		return nil
	}
	return json.Unmarshal(r.Body, dst)
}
