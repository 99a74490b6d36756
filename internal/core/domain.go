package core

import (
	"errors"
	"unicode/utf8"
)

// MaxDescriptionLength is the longest description, in characters, an expense may carry.
const MaxDescriptionLength = 200

type (
	Money struct {
		Cents int64
	}

	User struct {
		ID           int64
		Username     string
		Email        string
		PasswordHash string
	}

	Expense struct {
		ID          int64
		UserID      int64 // Owner
		Amount      Money
		Category    Category
		Description string
		Date        Date
	}
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidCategory     = errors.New("invalid category")
	ErrInvalidDate         = errors.New("invalid date")
	ErrInvalidPeriod       = errors.New("invalid period")
	ErrMissingExpenseOwner = errors.New("expense has no owner")
)

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks an expense before it is written. It reports every
// problem found as a ValidationError located in the request body.
func (e Expense) Validate() error {
	var violations []Violation

	if err := e.Amount.Validate(); err != nil {
		violations = append(violations, BodyViolation("amount", "Input should be greater than 0", "greater_than"))
	}
	if !e.Category.Valid() {
		violations = append(violations, BodyViolation("category", CategoryErrorMessage(), "value_error"))
	}
	if utf8.RuneCountInString(e.Description) > MaxDescriptionLength {
		violations = append(violations, BodyViolation("description", "String should have at most 200 characters", "string_too_long"))
	}
	if err := e.Date.Validate(); err != nil {
		violations = append(violations, BodyViolation("date", "Input should be a valid date", "date_type"))
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	if e.UserID <= 0 {
		return ErrMissingExpenseOwner
	}
	return nil
}
