package sessionflag

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Open builds a Store from a location string:
//
//	memory:                      process memory
//	file:///path/to/flag.json    JSON file (a bare path also works)
//	redis://host:6379/0          Redis key "wayfarer:session:<profile>"
//	postgres://...               wayfarer_session_flags row for profile
//
// The returned closer releases connections; it is never nil.
func Open(ctx context.Context, location, profile string) (Store, io.Closer, error) {
	location = strings.TrimSpace(location)
	if profile == "" {
		profile = "default"
	}
	noop := io.NopCloser(nil)

	switch {
	case location == "" || location == "memory:" || location == "memory://":
		return NewMemoryStore(false), noop, nil

	case strings.HasPrefix(location, "file://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		s, err := NewFileStore(u.Path)
		return s, noop, err

	case strings.HasPrefix(location, "redis://"), strings.HasPrefix(location, "rediss://"):
		opts, err := redis.ParseURL(location)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		s, err := NewRedisStore(redis.NewClient(opts), "wayfarer:session:"+profile, 0)
		if err != nil {
			return nil, noop, err
		}
		return s, s, nil

	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		cfg, err := pgxpool.ParseConfig(location)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		cfg.MaxConns = 2
		cfg.MaxConnIdleTime = 5 * time.Minute
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, noop, fmt.Errorf("session flag postgres: %w", err)
		}
		s, err := NewPostgresStore(pool, profile)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("session flag postgres schema: %w", err)
		}
		return s, s, nil

	case strings.Contains(location, "://"):
		return nil, noop, fmt.Errorf("%w: unsupported scheme in %q", ErrConfig, location)

	default:
		s, err := NewFileStore(location)
		return s, noop, err
	}
}
