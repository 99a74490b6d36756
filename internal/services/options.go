package services

import (
	"context"
	"log/slog"
	"time"

	"expenses/internal/amqp"
)

// EventPublisher receives domain events after a write has committed.
type EventPublisher interface {
	Publish(ctx context.Context, event amqp.Event) error
}

// Option configures a service.
type Option func(*serviceOptions)

type serviceOptions struct {
	now    func() time.Time
	events EventPublisher
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEvents publishes domain events to p.
func WithEvents(p EventPublisher) Option {
	return func(o *serviceOptions) { o.events = p }
}

func buildOptions(opts []Option) serviceOptions {
	o := serviceOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// publish is best effort: the write it reports has already committed.
func (o serviceOptions) publish(ctx context.Context, t amqp.EventType, userID, expenseID int64) {
	if o.events == nil {
		slog.DebugContext(ctx, "Event publishing disabled, skipping", "event_type", t)
		return
	}

	event := amqp.NewEvent(t, userID, expenseID, o.now())
	if err := o.events.Publish(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish event",
			"event_id", event.ID,
			"event_type", t,
			"user_id", userID,
			"error", err)
	}
}
