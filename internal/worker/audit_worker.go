package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"expenses/internal/amqp"
	"expenses/internal/core"
	"expenses/internal/storage"
)

// AuditWorker writes one audit log line per domain event, enriched with
// the current state of the record the event refers to.
type AuditWorker struct {
	store *storage.Store

	mu     sync.Mutex
	counts map[amqp.EventType]int
}

func NewAuditWorker(store *storage.Store) *AuditWorker {
	return &AuditWorker{
		store:  store,
		counts: make(map[amqp.EventType]int),
	}
}

// HandleEvent processes a single event from AMQP. Store failures are
// returned so the message is requeued; events that can never be processed
// wrap amqp.ErrDiscard.
func (w *AuditWorker) HandleEvent(ctx context.Context, e *amqp.Event) error {
	logger := slog.With(
		"event_id", e.ID,
		"event_type", e.Type,
		"user_id", e.UserID,
		"occurred_at", e.OccurredAt)

	var err error
	switch e.Type {
	case amqp.EventExpenseCreated, amqp.EventExpenseUpdated:
		err = w.auditExpense(ctx, logger, e)
	case amqp.EventExpenseDeleted:
		if e.ExpenseID <= 0 {
			return fmt.Errorf("%w: %s without expense id", amqp.ErrDiscard, e.Type)
		}
		logger.InfoContext(ctx, "Audit: expense deleted", "expense_id", e.ExpenseID)
	case amqp.EventUserRegistered, amqp.EventUserUsernameUpdated:
		err = w.auditUser(ctx, logger, e)
	case amqp.EventUserDeleted:
		logger.InfoContext(ctx, "Audit: user deleted")
	default:
		return fmt.Errorf("%w: unknown event type %q", amqp.ErrDiscard, e.Type)
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.counts[e.Type]++
	w.mu.Unlock()
	return nil
}

func (w *AuditWorker) auditExpense(ctx context.Context, logger *slog.Logger, e *amqp.Event) error {
	if e.ExpenseID <= 0 {
		return fmt.Errorf("%w: %s without expense id", amqp.ErrDiscard, e.Type)
	}

	expense, err := w.store.Expenses(e.UserID).Get(ctx, e.ExpenseID)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted before we got here; the delete event is audited on its own.
		logger.InfoContext(ctx, "Audit: expense no longer exists", "expense_id", e.ExpenseID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load expense %d: %w", e.ExpenseID, err)
	}

	logger.InfoContext(ctx, "Audit: expense "+actionOf(e.Type),
		"expense_id", expense.ID,
		"amount", expense.Amount.String(),
		"category", expense.Category,
		"date", expense.Date.String())
	return nil
}

func (w *AuditWorker) auditUser(ctx context.Context, logger *slog.Logger, e *amqp.Event) error {
	user, err := w.store.UserByID(ctx, e.UserID)
	if errors.Is(err, core.ErrNotFound) {
		logger.InfoContext(ctx, "Audit: user no longer exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user %d: %w", e.UserID, err)
	}

	logger.InfoContext(ctx, "Audit: user "+actionOf(e.Type), "username", user.Username)
	return nil
}

func actionOf(t amqp.EventType) string {
	switch t {
	case amqp.EventExpenseCreated:
		return "created"
	case amqp.EventUserRegistered:
		return "registered"
	case amqp.EventUserUsernameUpdated:
		return "renamed"
	default:
		return "updated"
	}
}

// Counts returns how many events of each type were audited so far.
func (w *AuditWorker) Counts() map[amqp.EventType]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[amqp.EventType]int, len(w.counts))
	for t, n := range w.counts {
		out[t] = n
	}
	return out
}

// LogSummary logs the per-type counters.
func (w *AuditWorker) LogSummary(ctx context.Context) {
	counts := w.Counts()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)

	attrs := make([]any, 0, 2*len(types))
	total := 0
	for _, t := range types {
		n := counts[amqp.EventType(t)]
		attrs = append(attrs, t, n)
		total += n
	}
	slog.InfoContext(ctx, "Audit summary", append([]any{"total", total}, attrs...)...)
}
