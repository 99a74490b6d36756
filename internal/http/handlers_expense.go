package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"expenses/internal/core"
	"expenses/internal/export"
	"expenses/internal/log"
	"expenses/internal/services"
)

const exportFilename = "expenses.xlsx"

// expenseResponse is the wire form of an expense. An empty description
// is sent as null.
type expenseResponse struct {
	ID          int64         `json:"id"`
	UserID      int64         `json:"user_id"`
	Amount      core.Money    `json:"amount"`
	Category    core.Category `json:"category"`
	Description *string       `json:"description"`
	Date        core.Date     `json:"date"`
}

type expenseListResponse struct {
	Expenses []expenseResponse `json:"expenses"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type createdResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

func newExpenseResponse(e core.Expense) expenseResponse {
	resp := expenseResponse{
		ID:       e.ID,
		UserID:   e.UserID,
		Amount:   e.Amount,
		Category: e.Category,
		Date:     e.Date,
	}
	if e.Description != "" {
		desc := e.Description
		resp.Description = &desc
	}
	return resp
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}

	expenses, err := s.expenses.List(r.Context(), actingUser(r), filter)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}

	resp := expenseListResponse{Expenses: make([]expenseResponse, 0, len(expenses))}
	for _, e := range expenses {
		resp.Expenses = append(resp.Expenses, newExpenseResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var in services.ExpenseInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	e, err := s.expenses.Add(r.Context(), actingUser(r), in)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	s.logger.LogExpense(r.Context(), log.OpCreate, e)
	writeJSON(w, http.StatusCreated, createdResponse{
		Message: fmt.Sprintf("Expense $%s added.", e.Amount),
		ID:      e.ID,
	})
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := expenseID(r)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	var in services.ExpenseChanges
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}

	e, err := s.expenses.Update(r.Context(), actingUser(r), id, in)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}

	s.logger.LogExpense(r.Context(), log.OpUpdate, e)
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Expense with ID %d successfully updated.", id),
	})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := expenseID(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}

	user := actingUser(r)
	if err := s.expenses.Delete(r.Context(), user, id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}

	fields := log.NewFields().WithUser(user.ID, "").WithOperation(log.OpDelete)
	fields[log.FieldExpenseID] = id
	log.FromContext(r.Context()).WithComponent(log.ComponentExpense).InfoContext(r.Context(), "Expense deleted", fields.ToSlice()...)
	w.WriteHeader(http.StatusNoContent)
}

// handleExportExpenses streams the filtered expenses as a workbook. The
// file is built in memory first so a failure still yields a JSON error.
func (s *Server) handleExportExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, log.OpExport, err)
		return
	}

	var buf bytes.Buffer
	if err := s.expenses.Export(r.Context(), actingUser(r), filter, &buf); err != nil {
		s.writeError(w, r, log.OpExport, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
