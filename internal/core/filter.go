package core

import (
	"fmt"
	"strings"
)

// Period is a named look-back window ending today.
type Period string

const (
	PeriodWeek       Period = "week"
	PeriodMonth      Period = "month"
	PeriodThreeMonth Period = "3months"
)

var periodDays = map[Period]int{
	PeriodWeek:       7,
	PeriodMonth:      30,
	PeriodThreeMonth: 90,
}

// ParsePeriod matches a period name case-insensitively.
func ParsePeriod(raw string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := periodDays[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}
	return p, nil
}

// Days returns the length of the window.
func (p Period) Days() int {
	return periodDays[p]
}

// DateRange is an inclusive date interval; a nil bound is open.
type DateRange struct {
	From *Date
	To   *Date
}

func (r DateRange) Contains(d Date) bool {
	if r.From != nil && d.Before(*r.From) {
		return false
	}
	if r.To != nil && r.To.Before(d) {
		return false
	}
	return true
}

// ResolveRange turns list query parameters into the range to filter on.
// A non-empty period wins over explicit dates and expands to
// [today - N days, today]. Without a period, an inverted explicit range
// is rejected.
func ResolveRange(from, to *Date, period string, today Date) (DateRange, error) {
	if strings.TrimSpace(period) != "" {
		p, err := ParsePeriod(period)
		if err != nil {
			return DateRange{}, Invalid("Invalid period. Allowed periods are: week, month, 3months")
		}
		start := today.AddDays(-p.Days())
		end := today
		return DateRange{From: &start, To: &end}, nil
	}

	if from != nil && to != nil && to.Before(*from) {
		return DateRange{}, Invalid("from_date cannot be later than to_date.")
	}
	return DateRange{From: from, To: to}, nil
}
