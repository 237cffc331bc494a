package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ExpenseSubmitted = "expense.submitted"
	ExpenseVerified  = "expense.verified"
)

// Event describes a committed expense change. Events are published after the
// write scope commits, so consumers never see rolled-back work.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ExpenseID  int64     `json:"expense_id"`
	OwnerID    int64     `json:"owner_id"`
	ActorID    int64     `json:"actor_id"`
	Amount     string    `json:"amount"`
	Date       string    `json:"date"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent stamps a fresh event id and timestamp.
func NewEvent(eventType string, occurredAt time.Time) Event {
	return Event{ID: uuid.NewString(), Type: eventType, OccurredAt: occurredAt}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ Event) error {
	return nil
}
