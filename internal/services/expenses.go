package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"expenses/internal/amqp"
	"expenses/internal/core"
	"expenses/internal/export"
	"expenses/internal/storage"
	"expenses/internal/validation"
)

const (
	MsgExpenseMissing    = "The expense doesn't exist."
	MsgExpenseNotDeleted = "The expense doesn't exist or you don't have permission to delete it."
)

// ExpenseService manages the expenses of the acting user. Every call is
// scoped to that user's rows; other users' expenses behave as missing.
type ExpenseService struct {
	store    *storage.Store
	validate *validation.Validator
	opts     serviceOptions
}

func NewExpenseService(store *storage.Store, v *validation.Validator, opts ...Option) *ExpenseService {
	return &ExpenseService{
		store:    store,
		validate: v,
		opts:     buildOptions(opts),
	}
}

func (s *ExpenseService) today() core.Date {
	return core.DateOf(s.opts.now())
}

// Range resolves a list filter against today's date.
func (s *ExpenseService) Range(f ListFilter) (core.DateRange, error) {
	return core.ResolveRange(f.From, f.To, f.Period, s.today())
}

// List returns the user's expenses in the filtered range, newest first.
func (s *ExpenseService) List(ctx context.Context, user core.User, f ListFilter) ([]core.Expense, error) {
	rng, err := s.Range(f)
	if err != nil {
		return nil, err
	}
	return s.store.Expenses(user.ID).List(ctx, rng)
}

// Add records a new expense for the user. The date defaults to today.
func (s *ExpenseService) Add(ctx context.Context, user core.User, in ExpenseInput) (core.Expense, error) {
	if err := s.validate.Struct(in); err != nil {
		return core.Expense{}, err
	}

	cents, err := core.ParseDecimalToCents(in.Amount.String())
	if err != nil {
		return core.Expense{}, amountViolation()
	}
	e := core.Expense{
		UserID:   user.ID,
		Amount:   core.Money{Cents: cents},
		Category: core.NormalizeCategory(*in.Category),
		Date:     s.today(),
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.Date != nil {
		e.Date = *in.Date
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	e.ID, err = s.store.Expenses(user.ID).Create(ctx, e)
	if err != nil {
		return core.Expense{}, err
	}

	s.opts.publish(ctx, amqp.EventExpenseCreated, user.ID, e.ID)
	return e, nil
}

// Update overwrites the supplied fields of one of the user's expenses and
// returns the result.
func (s *ExpenseService) Update(ctx context.Context, user core.User, id int64, in ExpenseChanges) (core.Expense, error) {
	if id <= 0 {
		return core.Expense{}, pathIDViolation()
	}
	if err := s.validate.Struct(in); err != nil {
		return core.Expense{}, err
	}
	patch, err := in.patch()
	if err != nil {
		return core.Expense{}, err
	}

	var updated core.Expense
	err = s.store.InTx(ctx, func(tx *storage.Tx) error {
		repo := tx.Expenses(user.ID)
		current, err := repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return core.NotFound(MsgExpenseMissing)
			}
			return err
		}

		updated = patch.Apply(current)
		if err := updated.Validate(); err != nil {
			return err
		}
		if patch.IsEmpty() {
			return nil
		}
		return repo.Update(ctx, updated)
	})
	if err != nil {
		return core.Expense{}, err
	}

	s.opts.publish(ctx, amqp.EventExpenseUpdated, user.ID, id)
	return updated, nil
}

// Delete removes one of the user's expenses.
func (s *ExpenseService) Delete(ctx context.Context, user core.User, id int64) error {
	if id <= 0 {
		return core.NotFound(MsgExpenseNotDeleted)
	}

	err := s.store.InTx(ctx, func(tx *storage.Tx) error {
		return tx.Expenses(user.ID).Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.NotFound(MsgExpenseNotDeleted)
		}
		return err
	}

	s.opts.publish(ctx, amqp.EventExpenseDeleted, user.ID, id)
	return nil
}

// Export writes the filtered expenses of the user as an XLSX workbook.
func (s *ExpenseService) Export(ctx context.Context, user core.User, f ListFilter, w io.Writer) error {
	expenses, err := s.List(ctx, user, f)
	if err != nil {
		return err
	}
	if err := export.WriteWorkbook(w, expenses); err != nil {
		return fmt.Errorf("export expenses: %w", err)
	}
	return nil
}
