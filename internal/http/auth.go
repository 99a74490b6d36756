package http

import (
	"context"
	"net/http"
	"strings"

	"expenses/internal/core"
)

const msgNotAuthenticated = "Not authenticated"

type contextKey string

const userContextKey contextKey = "user"

// IdentityResolver turns a bearer token into the acting user.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (core.User, error)
}

func withUser(ctx context.Context, user core.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func userFromContext(ctx context.Context) (core.User, bool) {
	user, ok := ctx.Value(userContextKey).(core.User)
	return user, ok
}

// bearerToken extracts the credential of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireUser rejects requests without a valid bearer token and stores
// the resolved user in the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeDetail(w, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}

		user, err := s.resolver.Resolve(r.Context(), token)
		if err != nil {
			s.writeError(w, r, "authenticate", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// actingUser returns the user stored by requireUser.
func actingUser(r *http.Request) core.User {
	user, _ := userFromContext(r.Context())
	return user
}
