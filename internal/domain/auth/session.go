// Package auth maps opaque shopper bearer tokens to shopper identities.
// How credentials are verified is out of scope; the pipeline only consumes
// the resulting session.
package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrSessionNotFound is returned when no session matches a token hash.
var ErrSessionNotFound = errors.New("session not found")

// Session holds the identity behind a validated shopper token.
type Session struct {
	ShopperID string
	Email     string
	TokenHash string
	CreatedAt time.Time
}

// Repository provides lookup of shopper sessions by the HMAC hash of their
// bearer token.
type Repository interface {
	FindByTokenHash(ctx context.Context, hash string) (*Session, error)
}
