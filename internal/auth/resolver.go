package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"expenses/internal/core"
)

// CredentialsErrorDetail is returned for every rejected bearer token so
// callers cannot tell which check failed.
const CredentialsErrorDetail = "Could not validate credentials."

// UserFinder looks users up by id. Missing users are reported with an
// error wrapping core.ErrNotFound.
type UserFinder interface {
	UserByID(ctx context.Context, id int64) (core.User, error)
}

// IdentityResolver recovers the acting user from a bearer token.
type IdentityResolver struct {
	codec *TokenCodec
	users UserFinder
	now   func() time.Time
}

func NewIdentityResolver(codec *TokenCodec, users UserFinder, now func() time.Time) *IdentityResolver {
	if now == nil {
		now = time.Now
	}
	return &IdentityResolver{codec: codec, users: users, now: now}
}

// Resolve returns the user a token was issued to. Bad signatures, expiry,
// missing claims and deleted users all fail with the same unauthorized error.
// Store failures are returned unchanged.
func (r *IdentityResolver) Resolve(ctx context.Context, token string) (core.User, error) {
	if token == "" {
		return core.User{}, core.Unauthorized(CredentialsErrorDetail)
	}

	claims, err := r.codec.Parse(token, r.now())
	if err != nil {
		slog.DebugContext(ctx, "Rejected access token", "error", err)
		return core.User{}, core.Unauthorized(CredentialsErrorDetail)
	}

	user, err := r.users.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			slog.DebugContext(ctx, "Access token for unknown user", "user_id", claims.UserID)
			return core.User{}, core.Unauthorized(CredentialsErrorDetail)
		}
		return core.User{}, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}
