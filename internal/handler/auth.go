package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

type sessionKey struct{}

// HashToken computes the hex HMAC-SHA256 of a shopper token under the given
// pepper. The seed tool uses the same function so stored hashes match.
func HashToken(token string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate resolves the bearer token in the Authorization header to a
// shopper session. Tokens are stored hashed; lookup is by HMAC-SHA256 of the
// presented token with a constant-time recheck against the stored hash.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		mac := hmac.New(sha256.New, h.pepper)
		mac.Write([]byte(token))
		hash := mac.Sum(nil)

		session, err := h.sessions.FindByTokenHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		// Constant-time recheck guards timing side-channels even though the
		// lookup already succeeded.
		stored, err := hex.DecodeString(session.TokenHash)
		if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) *auth.Session {
	s, _ := ctx.Value(sessionKey{}).(*auth.Session)
	return s
}
