package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/hunt"
)

type ctxKey int

const (
	ctxKeyUser ctxKey = iota
)

// sessionMiddleware resolves the bearer token to a player and rejects
// requests without one. Organizer accounts have no team and are refused.
func sessionMiddleware(logger *slog.Logger, store docstore.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := userFromToken(r.Context(), store, bearerToken(r))
			if errors.Is(err, errNoSession) {
				writeError(w, http.StatusUnauthorized, "invalid or missing session token")
				return
			}
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			if user.TeamID == "" {
				writeError(w, http.StatusForbidden, "player account required")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUser, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func adminMiddleware(hash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checkAdminKey(hash, r.Header.Get(adminKeyHeader)) {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func currentUser(r *http.Request) *hunt.User {
	return r.Context().Value(ctxKeyUser).(*hunt.User)
}
