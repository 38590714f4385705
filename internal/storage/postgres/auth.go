package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

var _ auth.Repository = (*SessionRepository)(nil)

// SessionRepository implements auth.Repository backed by PostgreSQL.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) FindByTokenHash(ctx context.Context, hash string) (*auth.Session, error) {
	var s auth.Session
	err := r.pool.QueryRow(ctx, `
		SELECT token_hash, shopper_id, email, created_at
		FROM shopper_sessions
		WHERE token_hash = $1`, hash).
		Scan(&s.TokenHash, &s.ShopperID, &s.Email, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query session")
	}
	return &s, nil
}

// CreateSession inserts a session row. Used by the seed tool.
func (r *SessionRepository) CreateSession(ctx context.Context, s *auth.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shopper_sessions (token_hash, shopper_id, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET shopper_id = $2, email = $3`,
		s.TokenHash, s.ShopperID, s.Email)
	if err != nil {
		return errors.Wrap(err, "insert session")
	}
	return nil
}
