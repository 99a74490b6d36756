package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   Category
	Amount Money
	Count  int
}

// Summary totals a set of expenses, by category in AllowedCategories order.
type Summary struct {
	Total      Money
	ByCategory []CategoryAmount
}

// Summarize aggregates expenses. Categories without expenses are omitted.
func Summarize(expenses []Expense) Summary {
	sums := make(map[Category]*CategoryAmount)
	var s Summary
	for _, e := range expenses {
		s.Total.Cents += e.Amount.Cents
		ca, ok := sums[e.Category]
		if !ok {
			ca = &CategoryAmount{Name: e.Category}
			sums[e.Category] = ca
		}
		ca.Amount.Cents += e.Amount.Cents
		ca.Count++
	}
	for _, c := range AllowedCategories {
		if ca, ok := sums[c]; ok {
			s.ByCategory = append(s.ByCategory, *ca)
		}
	}
	return s
}
