package core

// ExpensePatch holds the fields of a partial expense update. Nil fields
// leave the stored value untouched.
type ExpensePatch struct {
	Amount      *Money
	Category    *Category
	Description *string
	Date        *Date
}

func (p ExpensePatch) IsEmpty() bool {
	return p.Amount == nil && p.Category == nil && p.Description == nil && p.Date == nil
}

// Apply returns e with every non-nil field of the patch written over it.
func (p ExpensePatch) Apply(e Expense) Expense {
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	return e
}
