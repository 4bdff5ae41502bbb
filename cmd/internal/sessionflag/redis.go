package sessionflag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the flag under one Redis key. A missing key reads as
// inactive; clearing the flag deletes the key.
type RedisStore struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

// NewRedisStore returns a store writing key on rdb. ttl > 0 bounds how long an
// active flag survives without being refreshed.
func NewRedisStore(rdb redis.UniversalClient, key string, ttl time.Duration) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("%w: nil redis client", ErrConfig)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: empty redis key", ErrConfig)
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{rdb: rdb, key: key, ttl: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context) (bool, error) {
	v, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session flag redis get: %w", err)
	}
	return v == "1", nil
}

func (s *RedisStore) Set(ctx context.Context, active bool) error {
	var err error
	if active {
		err = s.rdb.Set(ctx, s.key, "1", s.ttl).Err()
	} else {
		err = s.rdb.Del(ctx, s.key).Err()
	}
	if err != nil {
		return fmt.Errorf("session flag redis set: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.rdb.Close() }
