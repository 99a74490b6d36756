package core

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category is one of a fixed set of expense categories, stored title-cased.
type Category string

const (
	CategoryGroceries   Category = "Groceries"
	CategoryLeisure     Category = "Leisure"
	CategoryElectronics Category = "Electronics"
	CategoryUtilities   Category = "Utilities"
	CategoryClothing    Category = "Clothing"
	CategoryHealth      Category = "Health"
	CategoryOthers      Category = "Others"
)

// AllowedCategories lists the accepted categories in display order.
var AllowedCategories = []Category{
	CategoryGroceries,
	CategoryLeisure,
	CategoryElectronics,
	CategoryUtilities,
	CategoryClothing,
	CategoryHealth,
	CategoryOthers,
}

// NormalizeCategory title-cases raw input ("groceries" -> "Groceries").
// The result may still be outside AllowedCategories.
func NormalizeCategory(raw string) Category {
	return Category(cases.Title(language.English).String(strings.TrimSpace(raw)))
}

// ParseCategory normalizes raw input and checks it against the allowed set.
func ParseCategory(raw string) (Category, error) {
	c := NormalizeCategory(raw)
	if !c.Valid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

func (c Category) Valid() bool {
	for _, allowed := range AllowedCategories {
		if c == allowed {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// CategoryErrorMessage is the client-facing text for a rejected category.
func CategoryErrorMessage() string {
	names := make([]string, len(AllowedCategories))
	for i, c := range AllowedCategories {
		names[i] = string(c)
	}
	return "Invalid category. Allowed categories are: " + strings.Join(names, ", ")
}
