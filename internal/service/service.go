package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"expensedesk/backend/internal/cache"
	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/events"
	"expensedesk/backend/internal/store"
)

var (
	ErrUnauthenticated  = errors.New("authentication required")
	ErrPermissionDenied = errors.New("permission denied")
	ErrValidation       = errors.New("validation failed")
	ErrStoreFailure     = errors.New("store failure")
)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func permissionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, fmt.Sprintf(format, args...))
}

// classify passes caller-facing errors through and wraps anything else as a
// store failure that keeps the cause.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrStoreFailure),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreFailure, err)
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == 0 {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

type Options struct {
	Cache     cache.ReportCache
	CacheTTL  time.Duration
	Publisher events.Publisher
	// Location defines the calendar day used for edit windows and report
	// buckets. Defaults to UTC.
	Location *time.Location
	Now      func() time.Time
}

type Service struct {
	repo      store.Repository
	cache     cache.ReportCache
	cacheTTL  time.Duration
	publisher events.Publisher
	loc       *time.Location
	now       func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopReportCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:      repo,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		publisher: opts.Publisher,
		loc:       opts.Location,
		now:       opts.Now,
	}
}

func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// today is the current calendar day key in the service location.
func (s *Service) today() string {
	return s.clock().In(s.loc).Format(domain.DateLayout)
}

func (s *Service) dayOf(t time.Time) string {
	return t.In(s.loc).Format(domain.DateLayout)
}

// atomic runs fn in one write scope and, once it has committed, drops cached
// reports and publishes the events fn queued.
func (s *Service) atomic(ctx context.Context, fn func(repo store.Repository, outbox *outbox) error) error {
	box := &outbox{}
	err := s.repo.Atomic(ctx, func(repo store.Repository) error {
		return fn(repo, box)
	})
	if err != nil {
		return classify(err)
	}
	s.afterCommit(ctx, box.events)
	return nil
}

func (s *Service) afterCommit(ctx context.Context, pending []events.Event) {
	if _, err := s.cache.Advance(ctx); err != nil {
		slog.Warn("report cache invalidation failed", "error", err)
	}
	for _, event := range pending {
		if err := s.publisher.Publish(ctx, event); err != nil {
			slog.Warn("event publish failed", "type", event.Type, "expense_id", event.ExpenseID, "error", err)
		}
	}
}
