package service

import (
	"context"
	"fmt"
	"time"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/events"
	"expensedesk/backend/internal/store"
)

// outbox collects events raised inside a write scope. They are published only
// after the scope commits.
type outbox struct {
	events []events.Event
}

func (o *outbox) add(event events.Event) {
	o.events = append(o.events, event)
}

// dispatch records the in-app notifications for an expense event inside the
// current scope and queues the event for publishing. Admin recipients are
// resolved at dispatch time.
func dispatch(ctx context.Context, repo store.Repository, box *outbox, event events.Event) error {
	switch event.Type {
	case events.ExpenseSubmitted:
		admins, err := repo.ListAdmins(ctx)
		if err != nil {
			return err
		}
		for _, admin := range admins {
			if _, err := repo.CreateNotification(ctx, domain.Notification{
				SenderID:   event.OwnerID,
				ReceiverID: admin.ID,
				Message:    event.Message,
				CreatedAt:  event.OccurredAt,
			}); err != nil {
				return fmt.Errorf("notify admin %d: %w", admin.ID, err)
			}
		}
	case events.ExpenseVerified:
		if _, err := repo.CreateNotification(ctx, domain.Notification{
			SenderID:   event.ActorID,
			ReceiverID: event.OwnerID,
			Message:    event.Message,
			CreatedAt:  event.OccurredAt,
		}); err != nil {
			return fmt.Errorf("notify owner %d: %w", event.OwnerID, err)
		}
	}
	box.add(event)
	return nil
}

func submittedEvent(submitter string, expense domain.Expense, at time.Time) events.Event {
	event := events.NewEvent(events.ExpenseSubmitted, at)
	event.ExpenseID = expense.ID
	event.OwnerID = expense.UserID
	event.ActorID = expense.UserID
	event.Amount = expense.Amount.StringFixed(2)
	event.Date = expense.Date.String()
	event.Message = fmt.Sprintf("%s submitted an expense of %s on %s", submitter, expense.Amount.StringFixed(2), expense.Date)
	return event
}

func verifiedEvent(actor domain.Actor, expense domain.Expense, at time.Time) events.Event {
	event := events.NewEvent(events.ExpenseVerified, at)
	event.ExpenseID = expense.ID
	event.OwnerID = expense.UserID
	event.ActorID = actor.UserID
	event.Amount = expense.Amount.StringFixed(2)
	event.Date = expense.Date.String()
	event.Message = fmt.Sprintf("Your expense of %s on %s was verified by %s", expense.Amount.StringFixed(2), expense.Date, actor.Username)
	return event
}

func (s *Service) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	notifications, err := s.repo.ListNotifications(ctx, actor.UserID)
	return notifications, classify(err)
}

// GetNotification returns one of the caller's notifications; other users'
// notifications are reported as not found.
func (s *Service) GetNotification(ctx context.Context, id int64) (domain.Notification, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Notification{}, err
	}
	n, err := s.repo.GetNotification(ctx, id, actor.UserID)
	if err != nil {
		return domain.Notification{}, classify(err)
	}
	return *n, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id int64) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		return repo.MarkNotificationRead(ctx, id, actor.UserID)
	})
}
