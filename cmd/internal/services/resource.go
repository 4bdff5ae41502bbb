// Package services exposes typed CRUD wrappers for the API's resource
// collections. Every call goes through client.Client, so an expired session
// is renewed and the call replayed without the caller noticing.
package services

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"wayfarer/cmd/internal/client"
)

// ErrInvalidID is returned for an empty or path-unsafe id.
var ErrInvalidID = errors.New("services: invalid id")

// Requester is the slice of client.Client the wrappers need.
type Requester interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, payload, out any) error
	Put(ctx context.Context, path string, payload, out any) error
	Patch(ctx context.Context, path string, payload, out any) error
	Delete(ctx context.Context, path string, out any) error
}

var _ Requester = (*client.Client)(nil)

// ListOptions narrows a List call.
type ListOptions struct {
	Limit int
	// Extra is passed through as query parameters.
	Extra url.Values
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	for k, v := range o.Extra {
		q[k] = append([]string(nil), v...)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// Resource is a typed view of one collection.
type Resource[T any] struct {
	r    Requester
	path string
}

// NewResource binds collection (e.g. "forums") to r.
func NewResource[T any](r Requester, collection string) *Resource[T] {
	return &Resource[T]{r: r, path: "/" + strings.Trim(collection, "/")}
}

// Path is the collection root.
func (s *Resource[T]) Path() string { return s.path }

func (s *Resource[T]) itemPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/?#") {
		return "", ErrInvalidID
	}
	return s.path + "/" + url.PathEscape(id), nil
}

func (s *Resource[T]) List(ctx context.Context, opts ListOptions) ([]T, error) {
	var out struct {
		Items []T `json:"items"`
	}
	if err := s.r.Get(ctx, s.path, opts.values(), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (s *Resource[T]) Get(ctx context.Context, id string) (*T, error) {
	p, err := s.itemPath(id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := s.r.Get(ctx, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Resource[T]) Create(ctx context.Context, in T) (*T, error) {
	var out T
	if err := s.r.Post(ctx, s.path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces the item. Server-owned fields are kept by the server.
func (s *Resource[T]) Update(ctx context.Context, id string, in T) (*T, error) {
	p, err := s.itemPath(id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := s.r.Put(ctx, p, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Patch merges fields into the item.
func (s *Resource[T]) Patch(ctx context.Context, id string, fields map[string]any) (*T, error) {
	p, err := s.itemPath(id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := s.r.Patch(ctx, p, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Resource[T]) Delete(ctx context.Context, id string) error {
	p, err := s.itemPath(id)
	if err != nil {
		return err
	}
	return s.r.Delete(ctx, p, nil)
}
