package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/hunt"
)

var errNoSession = errors.New("no valid session")

const adminKeyHeader = "X-Admin-Key"

// bearerToken reads the session token from the Authorization header, or from
// the token query parameter for EventSource and WebSocket clients that cannot
// set headers.
func bearerToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

func userFromToken(ctx context.Context, store docstore.Client, token string) (*hunt.User, error) {
	if token == "" {
		return nil, errNoSession
	}
	sess, err := docstore.Get[hunt.Session](ctx, store, hunt.CollectionSessions, token)
	if errors.Is(err, hunt.ErrNotFound) {
		return nil, errNoSession
	}
	if err != nil {
		return nil, err
	}
	user, err := docstore.Get[hunt.User](ctx, store, hunt.CollectionUsers, sess.UserID)
	if errors.Is(err, hunt.ErrNotFound) {
		return nil, errNoSession
	}
	return user, err
}

// checkAdminKey reports whether key matches the configured bcrypt hash.
func checkAdminKey(hash []byte, key string) bool {
	if len(hash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil
}
