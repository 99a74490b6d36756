package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event published after a committed write.
type EventType string

const (
	EventUserRegistered      EventType = "user.registered"
	EventUserUsernameUpdated EventType = "user.username_updated"
	EventUserDeleted         EventType = "user.deleted"
	EventExpenseCreated      EventType = "expense.created"
	EventExpenseUpdated      EventType = "expense.updated"
	EventExpenseDeleted      EventType = "expense.deleted"
)

var knownEvents = map[EventType]bool{
	EventUserRegistered:      true,
	EventUserUsernameUpdated: true,
	EventUserDeleted:         true,
	EventExpenseCreated:      true,
	EventExpenseUpdated:      true,
	EventExpenseDeleted:      true,
}

// Known reports whether t is one of the published event types.
func (t EventType) Known() bool { return knownEvents[t] }

// Event is a lightweight notification. It carries ids only; consumers
// that need the full record read it from the store.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	UserID     int64     `json:"user_id"`
	ExpenseID  int64     `json:"expense_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent creates an event with a fresh id. expenseID is zero for user events.
func NewEvent(t EventType, userID, expenseID int64, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		UserID:     userID,
		ExpenseID:  expenseID,
		OccurredAt: at.UTC(),
	}
}

// Validate rejects events a consumer cannot act on.
func (e Event) Validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("invalid event id %q: %w", e.ID, err)
	}
	if !e.Type.Known() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.UserID <= 0 {
		return errors.New("event has no user id")
	}
	return nil
}

// ToJSON converts the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes and validates an event.
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
