package services

import (
	"encoding/json"

	"expenses/internal/core"
)

// SignupInput is the registration payload.
type SignupInput struct {
	Username        string `json:"username" validate:"required,min=3,max=30,username"`
	Email           string `json:"email" validate:"required,email,max=75"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type UsernameInput struct {
	Username string `json:"username" validate:"required,min=3,max=30,username"`
}

// ExpenseInput is the payload of a new expense. Amount accepts a JSON
// number or a numeric string.
type ExpenseInput struct {
	Amount      *json.Number `json:"amount" validate:"required,numeric,positive_amount"`
	Category    *string      `json:"category" validate:"required,max=50,category"`
	Description *string      `json:"description" validate:"omitempty,max=200"`
	Date        *core.Date   `json:"date"`
}

// ExpenseChanges is a partial update; nil and null fields are left alone.
type ExpenseChanges struct {
	Amount      *json.Number `json:"amount" validate:"omitempty,numeric,positive_amount"`
	Category    *string      `json:"category" validate:"omitempty,max=50,category"`
	Description *string      `json:"description" validate:"omitempty,max=200"`
	Date        *core.Date   `json:"date"`
}

// ListFilter holds the raw list query. Period, when set, wins over the dates.
type ListFilter struct {
	From   *core.Date
	To     *core.Date
	Period string
}

func (c ExpenseChanges) patch() (core.ExpensePatch, error) {
	var p core.ExpensePatch
	if c.Amount != nil {
		cents, err := core.ParseDecimalToCents(c.Amount.String())
		if err != nil {
			return p, amountViolation()
		}
		p.Amount = &core.Money{Cents: cents}
	}
	if c.Category != nil {
		cat := core.NormalizeCategory(*c.Category)
		p.Category = &cat
	}
	p.Description = c.Description
	p.Date = c.Date
	return p, nil
}

func amountViolation() error {
	return &core.ValidationError{Violations: []core.Violation{
		core.BodyViolation("amount", "Input should be greater than 0", "greater_than"),
	}}
}

func pathIDViolation() error {
	return &core.ValidationError{Violations: []core.Violation{
		{Loc: []string{"path", "id"}, Msg: "Input should be greater than 0", Type: "greater_than"},
	}}
}
