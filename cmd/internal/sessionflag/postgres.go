package sessionflag

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps one row per profile in wayfarer_session_flags. It is
// meant for backend-for-frontend deployments where several client processes
// act for the same user.
type PostgresStore struct {
	pool    *pgxpool.Pool
	profile string
}

// NewPostgresStore returns a store for profile on pool.
func NewPostgresStore(pool *pgxpool.Pool, profile string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrConfig)
	}
	if profile == "" {
		return nil, fmt.Errorf("%w: empty profile", ErrConfig)
	}
	return &PostgresStore{pool: pool, profile: profile}, nil
}

// EnsureSchema creates the flag table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wayfarer_session_flags (
			profile    TEXT PRIMARY KEY,
			active     BOOLEAN NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx, `
		SELECT active FROM wayfarer_session_flags WHERE profile = $1
	`, s.profile).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session flag postgres get: %w", err)
	}
	return active, nil
}

func (s *PostgresStore) Set(ctx context.Context, active bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wayfarer_session_flags (profile, active, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (profile) DO UPDATE
		SET active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
	`, s.profile, active)
	if err != nil {
		return fmt.Errorf("session flag postgres set: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
