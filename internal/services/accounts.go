package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"expenses/internal/amqp"
	"expenses/internal/auth"
	"expenses/internal/core"
	"expenses/internal/storage"
	"expenses/internal/validation"
)

// Client-facing messages of the account operations.
const (
	MsgEmailRegistered    = "Email already registered."
	MsgUsernameTaken      = "Username already taken."
	MsgUsernameInUse      = "Username already in use."
	MsgInvalidCredentials = "Invalid credentials."
	MsgUserNotFound       = "User not found."
)

// Session is what a successful login hands back to the client.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AccountService handles registration, login and self-service account changes.
type AccountService struct {
	store    *storage.Store
	hasher   auth.PasswordHasher
	tokens   *auth.TokenCodec
	validate *validation.Validator
	opts     serviceOptions
}

// NewAccountService wires the account operations. tokens may be nil for
// callers that never log in, such as the admin CLI.
func NewAccountService(store *storage.Store, hasher auth.PasswordHasher, tokens *auth.TokenCodec, v *validation.Validator, opts ...Option) *AccountService {
	return &AccountService{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		validate: v,
		opts:     buildOptions(opts),
	}
}

// Signup registers a user and returns the new id. Email uniqueness is
// checked before username uniqueness.
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (int64, error) {
	if err := s.validate.Struct(in); err != nil {
		return 0, err
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return 0, &core.ValidationError{Violations: []core.Violation{
			core.BodyViolation("password", fmt.Sprintf("String should have at most %d bytes", auth.MaxPasswordBytes), "string_too_long"),
		}}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.store.InTx(ctx, func(tx *storage.Tx) error {
		users := tx.Users()
		if err := ensureFree(users.ByEmail(ctx, in.Email)); err != nil {
			return conflictOr(err, MsgEmailRegistered)
		}
		if err := ensureFree(users.ByUsername(ctx, in.Username)); err != nil {
			return conflictOr(err, MsgUsernameTaken)
		}

		id, err = users.Create(ctx, in.Username, in.Email, hash)
		if err != nil {
			return duplicateConflict(err, MsgUsernameTaken)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "User registered", "user_id", id, "username", in.Username)
	s.opts.publish(ctx, amqp.EventUserRegistered, id, 0)
	return id, nil
}

// Login checks the credentials and issues an access token.
func (s *AccountService) Login(ctx context.Context, username, password string) (Session, error) {
	if s.tokens == nil {
		return Session{}, errors.New("login: no token codec configured")
	}

	user, err := s.store.Users().ByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			slog.InfoContext(ctx, "Login for unknown user", "username", username)
			return Session{}, core.Unauthorized(MsgInvalidCredentials)
		}
		return Session{}, err
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		slog.InfoContext(ctx, "Login with wrong password", "user_id", user.ID)
		return Session{}, core.Unauthorized(MsgInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.ID, user.Username, s.opts.now())
	if err != nil {
		return Session{}, err
	}

	slog.InfoContext(ctx, "User logged in", "user_id", user.ID)
	return Session{AccessToken: token, TokenType: auth.TokenType}, nil
}

// UpdateUsername renames the acting user and returns the new name.
// Keeping one's current name succeeds.
func (s *AccountService) UpdateUsername(ctx context.Context, user core.User, in UsernameInput) (string, error) {
	if err := s.validate.Struct(in); err != nil {
		return "", err
	}

	err := s.store.InTx(ctx, func(tx *storage.Tx) error {
		users := tx.Users()
		holder, err := users.ByUsername(ctx, in.Username)
		switch {
		case err == nil && holder.ID != user.ID:
			return core.Conflict(MsgUsernameInUse)
		case err != nil && !errors.Is(err, core.ErrNotFound):
			return err
		}

		if err := users.UpdateUsername(ctx, user.ID, in.Username); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return core.NotFound(MsgUserNotFound)
			}
			return duplicateConflict(err, MsgUsernameInUse)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Username updated", "user_id", user.ID, "username", in.Username)
	s.opts.publish(ctx, amqp.EventUserUsernameUpdated, user.ID, 0)
	return in.Username, nil
}

// DeleteAccount removes the acting user together with all of their expenses.
func (s *AccountService) DeleteAccount(ctx context.Context, user core.User) error {
	err := s.store.InTx(ctx, func(tx *storage.Tx) error {
		if err := tx.Users().Delete(ctx, user.ID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return core.NotFound(MsgUserNotFound)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.opts.publish(ctx, amqp.EventUserDeleted, user.ID, 0)
	return nil
}

// ensureFree turns a successful lookup into a conflict marker and a
// not-found into nil.
func ensureFree(_ core.User, err error) error {
	switch {
	case err == nil:
		return core.ErrConflict
	case errors.Is(err, core.ErrNotFound):
		return nil
	default:
		return err
	}
}

func conflictOr(err error, detail string) error {
	if errors.Is(err, core.ErrConflict) {
		return core.Conflict(detail)
	}
	return err
}

// duplicateConflict maps a unique violation that slipped past the lookups,
// naming the column when the driver reports it.
func duplicateConflict(err error, fallback string) error {
	var dup *storage.DuplicateError
	if !errors.As(err, &dup) {
		return err
	}
	if dup.Column == "email" {
		return core.Conflict(MsgEmailRegistered)
	}
	return core.Conflict(fallback)
}
