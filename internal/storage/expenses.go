package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"expenses/internal/core"
)

// ExpenseRepository reads and writes the expenses of a single owner. Every
// statement it issues is filtered by that owner, so rows of other users are
// indistinguishable from missing ones.
type ExpenseRepository struct {
	q       querier
	dialect Dialect
	ownerID int64
}

const expenseColumns = "id, user_id, amount_cents, category, description, expense_date"

func (r *ExpenseRepository) OwnerID() int64 { return r.ownerID }

// List returns the owner's expenses within rng, newest date first and in
// insertion order within a day.
func (r *ExpenseRepository) List(ctx context.Context, rng core.DateRange) ([]core.Expense, error) {
	where := []string{"user_id = ?"}
	args := []any{r.ownerID}
	if rng.From != nil {
		where = append(where, "expense_date >= ?")
		args = append(args, *rng.From)
	}
	if rng.To != nil {
		where = append(where, "expense_date <= ?")
		args = append(args, *rng.To)
	}

	query := "SELECT " + expenseColumns + " FROM expenses WHERE " +
		strings.Join(where, " AND ") + " ORDER BY expense_date DESC, id ASC"

	rows, err := r.q.QueryContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]core.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

// Get returns the owner's expense with the given id, or core.ErrNotFound.
func (r *ExpenseRepository) Get(ctx context.Context, id int64) (core.Expense, error) {
	row := r.q.QueryRowContext(ctx,
		rebind(r.dialect, "SELECT "+expenseColumns+" FROM expenses WHERE id = ? AND user_id = ?"),
		id, r.ownerID,
	)
	e, err := scanExpense(row)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, classify(err))
	}
	return e, nil
}

// Create inserts e for the owner and returns its id. e.UserID is ignored.
func (r *ExpenseRepository) Create(ctx context.Context, e core.Expense) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx,
		rebind(r.dialect, "INSERT INTO expenses (user_id, amount_cents, category, description, expense_date) VALUES (?, ?, ?, ?, ?) RETURNING id"),
		r.ownerID, e.Amount.Cents, string(e.Category), nullString(e.Description), e.Date,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", classify(err))
	}

	slog.InfoContext(ctx, "Expense saved",
		"expense_id", id,
		"user_id", r.ownerID,
		"amount_cents", e.Amount.Cents,
		"category", e.Category,
		"date", e.Date.String())
	return id, nil
}

// Update overwrites every mutable column of the owner's expense e.ID.
func (r *ExpenseRepository) Update(ctx context.Context, e core.Expense) error {
	res, err := r.q.ExecContext(ctx,
		rebind(r.dialect, "UPDATE expenses SET amount_cents = ?, category = ?, description = ?, expense_date = ? WHERE id = ? AND user_id = ?"),
		e.Amount.Cents, string(e.Category), nullString(e.Description), e.Date, e.ID, r.ownerID,
	)
	if err != nil {
		return fmt.Errorf("update expense %d: %w", e.ID, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("update expense %d: %w", e.ID, err)
	}
	return nil
}

// Delete removes the owner's expense with the given id, or returns core.ErrNotFound.
func (r *ExpenseRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx,
		rebind(r.dialect, "DELETE FROM expenses WHERE id = ? AND user_id = ?"),
		id, r.ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Expense deleted", "expense_id", id, "user_id", r.ownerID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(s rowScanner) (core.Expense, error) {
	var (
		e    core.Expense
		cat  string
		desc sql.NullString
	)
	if err := s.Scan(&e.ID, &e.UserID, &e.Amount.Cents, &cat, &desc, &e.Date); err != nil {
		return core.Expense{}, err
	}
	e.Category = core.Category(cat)
	e.Description = desc.String
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
