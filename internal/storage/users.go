package storage

import (
	"context"
	"fmt"
	"log/slog"

	"expenses/internal/core"
)

// Users reads and writes user rows.
type Users struct {
	q       querier
	dialect Dialect
}

const userColumns = "id, username, email, hashed_password"

// Create inserts a user and returns its new id.
func (u *Users) Create(ctx context.Context, username, email, passwordHash string) (int64, error) {
	var id int64
	err := u.q.QueryRowContext(ctx,
		rebind(u.dialect, "INSERT INTO users (username, email, hashed_password) VALUES (?, ?, ?) RETURNING id"),
		username, email, passwordHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", classify(err))
	}

	slog.InfoContext(ctx, "User saved", "user_id", id, "username", username)
	return id, nil
}

func (u *Users) ByID(ctx context.Context, id int64) (core.User, error) {
	return u.one(ctx, "id = ?", id)
}

func (u *Users) ByUsername(ctx context.Context, username string) (core.User, error) {
	return u.one(ctx, "username = ?", username)
}

func (u *Users) ByEmail(ctx context.Context, email string) (core.User, error) {
	return u.one(ctx, "email = ?", email)
}

func (u *Users) one(ctx context.Context, where string, arg any) (core.User, error) {
	var user core.User
	err := u.q.QueryRowContext(ctx,
		rebind(u.dialect, "SELECT "+userColumns+" FROM users WHERE "+where),
		arg,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash)
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", classify(err))
	}
	return user, nil
}

// UpdateUsername renames the user. A missing user yields core.ErrNotFound,
// a taken name ErrDuplicate.
func (u *Users) UpdateUsername(ctx context.Context, id int64, username string) error {
	res, err := u.q.ExecContext(ctx,
		rebind(u.dialect, "UPDATE users SET username = ? WHERE id = ?"),
		username, id,
	)
	if err != nil {
		return fmt.Errorf("update username: %w", classify(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("update username: %w", err)
	}
	return nil
}

// Delete removes the user and every expense they own.
func (u *Users) Delete(ctx context.Context, id int64) error {
	// Expenses go first so the cascade holds even with foreign keys off.
	if _, err := u.q.ExecContext(ctx, rebind(u.dialect, "DELETE FROM expenses WHERE user_id = ?"), id); err != nil {
		return fmt.Errorf("delete user expenses: %w", err)
	}
	res, err := u.q.ExecContext(ctx, rebind(u.dialect, "DELETE FROM users WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	slog.InfoContext(ctx, "User deleted", "user_id", id)
	return nil
}
