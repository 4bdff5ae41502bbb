package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

const (
	// HeaderRequestID carries the descriptor ID on every request.
	HeaderRequestID = "X-Request-Id"

	defaultMaxResponseBytes = 4 << 20
	defaultUserAgent        = "wayfarer-client"
)

// Dispatcher sends one request and returns its response or a typed failure.
type Dispatcher interface {
	Send(ctx context.Context, d *Descriptor) (*Response, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, d *Descriptor) (*Response, error)

// Send calls f.
func (f DispatcherFunc) Send(ctx context.Context, d *Descriptor) (*Response, error) {
	return f(ctx, d)
}

// HTTPDispatcher is the production Dispatcher over *http.Client.
type HTTPDispatcher struct {
	base      *url.URL
	client    *http.Client
	limiter   *rate.Limiter
	maxBody   int64
	userAgent string
	metrics   *Metrics
	log       *slog.Logger
}

// Option customises an HTTPDispatcher.
type Option func(*HTTPDispatcher)

// WithHTTPClient sets the underlying client. Its cookie jar is what carries the
// session. The dispatcher keeps a copy whose transport is wrapped for
// tracing; c itself is not modified.
func WithHTTPClient(c *http.Client) Option {
	return func(d *HTTPDispatcher) {
		if c != nil {
			cp := *c
			d.client = &cp
		}
	}
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(d *HTTPDispatcher) {
		if rps <= 0 {
			d.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxResponseBytes bounds how much of a response body is read.
func WithMaxResponseBytes(n int64) Option {
	return func(d *HTTPDispatcher) {
		if n > 0 {
			d.maxBody = n
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *HTTPDispatcher) {
		if ua = strings.TrimSpace(ua); ua != "" {
			d.userAgent = ua
		}
	}
}

// WithMetrics records request counters and latencies.
func WithMetrics(m *Metrics) Option {
	return func(d *HTTPDispatcher) { d.metrics = m }
}

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *HTTPDispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// NewHTTPDispatcher builds a dispatcher for the API rooted at baseURL.
func NewHTTPDispatcher(baseURL string, opts ...Option) (*HTTPDispatcher, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", baseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url missing host: %q", baseURL)
	}

	d := &HTTPDispatcher{
		base:      base,
		client:    &http.Client{},
		maxBody:   defaultMaxResponseBytes,
		userAgent: defaultUserAgent,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.client.Transport = Traced(d.client.Transport)
	return d, nil
}

// Traced wraps rt in an otelhttp client transport using the global tracer
// provider and propagator. Already wrapped transports are returned unchanged.
func Traced(rt http.RoundTripper) http.RoundTripper {
	if _, ok := rt.(*otelhttp.Transport); ok {
		return rt
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	return otelhttp.NewTransport(rt,
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "wayfarer " + r.Method + " " + r.URL.Path
		}),
	)
}

// BaseURL returns a copy of the API root.
func (d *HTTPDispatcher) BaseURL() *url.URL {
	u := *d.base
	return &u
}

// Client exposes the underlying client (cookie jar and transport) so other
// protocols, such as the websocket handshake, share the session.
func (d *HTTPDispatcher) Client() *http.Client { return d.client }

// URLFor resolves a descriptor against the base URL.
func (d *HTTPDispatcher) URLFor(desc *Descriptor) *url.URL {
	u := *d.base
	u.Path = strings.TrimRight(u.Path, "/") + desc.Path
	u.RawPath = ""
	if len(desc.Query) > 0 {
		u.RawQuery = desc.Query.Encode()
	} else {
		u.RawQuery = ""
	}
	return &u
}

// Send performs one HTTP exchange for desc.
func (d *HTTPDispatcher) Send(ctx context.Context, desc *Descriptor) (*Response, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, &NoResponseError{Method: desc.Method, Path: desc.Path, Err: err}
		}
	}

	body, contentType, err := desc.body()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, desc.Method, d.URLFor(desc).String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	for k, vs := range desc.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("User-Agent", d.userAgent)
	if desc.ID != "" {
		req.Header.Set(HeaderRequestID, desc.ID)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		d.observe(desc, 0, start, err)
		return nil, &NoResponseError{Method: desc.Method, Path: desc.Path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBody))
	if err != nil {
		d.observe(desc, resp.StatusCode, start, err)
		return nil, &NoResponseError{Method: desc.Method, Path: desc.Path, Err: fmt.Errorf("read body: %w", err)}
	}
	d.observe(desc, resp.StatusCode, start, nil)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Method: desc.Method,
			Path:   desc.Path,
			Status: resp.StatusCode,
			Header: resp.Header.Clone(),
			Body:   raw,
		}
	}

	return &Response{
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       raw,
		Descriptor: desc,
	}, nil
}

func (d *HTTPDispatcher) observe(desc *Descriptor, status int, start time.Time, err error) {
	elapsed := time.Since(start)
	d.metrics.observe(desc.Method, status, elapsed)

	attrs := []any{
		"method", desc.Method,
		"path", desc.Path,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
		"request_id", desc.ID,
		"retried", desc.Retried(),
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			d.log.Debug("http.client.cancel", attrs...)
			return
		}
		d.log.Warn("http.client.error", append(attrs, "err", err)...)
		return
	}
	d.log.Debug("http.client.request", attrs...)
}
