// Package export renders expenses as an XLSX workbook.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"expenses/internal/core"
)

const (
	ExpensesSheet = "Expenses"
	SummarySheet  = "Summary"

	// ContentType is the media type of the written workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var expenseHeader = []any{"Date", "Category", "Amount", "Description"}

// WriteWorkbook writes expenses, in the given order, to w. A second sheet
// totals them by category.
func WriteWorkbook(w io.Writer, expenses []core.Expense) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ExpensesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00
	if err != nil {
		return fmt.Errorf("amount style: %w", err)
	}

	if err := writeExpenses(f, expenses, headerStyle, amountStyle); err != nil {
		return err
	}
	if err := writeSummary(f, core.Summarize(expenses), headerStyle, amountStyle); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeExpenses(f *excelize.File, expenses []core.Expense, headerStyle, amountStyle int) error {
	if err := f.SetSheetRow(ExpensesSheet, "A1", &expenseHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(ExpensesSheet, "A1", "D1", headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, e := range expenses {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{e.Date.String(), e.Category.String(), e.Amount.Float(), e.Description}
		if err := f.SetSheetRow(ExpensesSheet, cell, &row); err != nil {
			return fmt.Errorf("write expense %d: %w", e.ID, err)
		}
	}

	if len(expenses) > 0 {
		last := fmt.Sprintf("C%d", len(expenses)+1)
		if err := f.SetCellStyle(ExpensesSheet, "C2", last, amountStyle); err != nil {
			return fmt.Errorf("style amounts: %w", err)
		}
	}

	for col, width := range map[string]float64{"A": 12, "B": 14, "C": 12, "D": 48} {
		if err := f.SetColWidth(ExpensesSheet, col, col, width); err != nil {
			return fmt.Errorf("column width: %w", err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, s core.Summary, headerStyle, amountStyle int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	header := []any{"Category", "Count", "Total"}
	if err := f.SetSheetRow(SummarySheet, "A1", &header); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "C1", headerStyle); err != nil {
		return fmt.Errorf("style summary header: %w", err)
	}

	row := 2
	for _, c := range s.ByCategory {
		values := []any{c.Name.String(), c.Count, c.Amount.Float()}
		if err := f.SetSheetRow(SummarySheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
		row++
	}
	total := []any{"Total", "", s.Total.Float()}
	if err := f.SetSheetRow(SummarySheet, fmt.Sprintf("A%d", row), &total); err != nil {
		return fmt.Errorf("write summary total: %w", err)
	}
	if err := f.SetCellStyle(SummarySheet, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), headerStyle); err != nil {
		return fmt.Errorf("style summary total: %w", err)
	}
	if err := f.SetCellStyle(SummarySheet, "C2", fmt.Sprintf("C%d", row), amountStyle); err != nil {
		return fmt.Errorf("style summary amounts: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "A", 14)
}
