package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/report"
)

const (
	cacheKeyDailyTotals      = "daily-combined-totals"
	cacheKeyDailyUserSummary = "daily-user-summary"
)

func versionedKey(key string, generation int64) string {
	return fmt.Sprintf("%s:g%d", key, generation)
}

// cached serves key from the report cache or computes, stores and returns it.
// The generation is read before computing, so figures computed from rows that
// predate a commit are stored under a generation the commit has retired.
// Cache faults degrade to computing.
func cached[T any](ctx context.Context, s *Service, key string, compute func() (T, error)) (T, error) {
	generation, err := s.cache.Generation(ctx)
	if err != nil {
		slog.Warn("report cache generation read failed", "key", key, "error", err)
		return compute()
	}
	key = versionedKey(key, generation)

	if payload, ok, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("report cache read failed", "key", key, "error", err)
	} else if ok {
		var hit T
		if err := json.Unmarshal(payload, &hit); err == nil {
			return hit, nil
		}
	}

	value, err := compute()
	if err != nil {
		return value, err
	}
	if payload, err := json.Marshal(value); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
			slog.Warn("report cache write failed", "key", key, "error", err)
		}
	}
	return value, nil
}

func (s *Service) DailyCombinedTotals(ctx context.Context) ([]domain.DailyTotal, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, Resource{Kind: KindReport}, ActionRead); err != nil {
		return nil, err
	}

	return cached(ctx, s, cacheKeyDailyTotals, func() ([]domain.DailyTotal, error) {
		var lines []domain.OrderItemRow
		var links []domain.ExpenseLinkRow

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			lines, err = s.repo.ListOrderItemRows(gctx, nil)
			return err
		})
		g.Go(func() error {
			var err error
			links, err = s.repo.ListExpenseLinkRows(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, classify(err)
		}
		return report.DailyTotals(lines, links, s.loc), nil
	})
}

func (s *Service) DailyUserSummary(ctx context.Context) ([]domain.DailyUserSummary, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, Resource{Kind: KindReport}, ActionRead); err != nil {
		return nil, err
	}

	return cached(ctx, s, cacheKeyDailyUserSummary, func() ([]domain.DailyUserSummary, error) {
		lines, err := s.repo.ListOrderItemRows(ctx, nil)
		if err != nil {
			return nil, classify(err)
		}
		return report.DailyUserSummary(lines, s.loc), nil
	})
}

// scopedLines returns every order line for admins and the caller's own lines
// for everyone else.
func (s *Service) scopedLines(ctx context.Context, actor domain.Actor) ([]domain.OrderItemRow, error) {
	var userID *int64
	if !actor.IsAdmin() {
		userID = &actor.UserID
	}
	lines, err := s.repo.ListOrderItemRows(ctx, userID)
	return lines, classify(err)
}

func (s *Service) GroupedItems(ctx context.Context, filter domain.GroupedItemsFilter, page int, pageSize int) (domain.GroupedItemsResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.GroupedItemsResponse{}, err
	}
	parsed, err := report.ParseFilter(filter)
	if err != nil {
		return domain.GroupedItemsResponse{}, validationErrorf("%v", err)
	}
	lines, err := s.scopedLines(ctx, actor)
	if err != nil {
		return domain.GroupedItemsResponse{}, err
	}
	return report.GroupItems(lines, parsed, page, pageSize, s.loc), nil
}

func (s *Service) AvailableDates(ctx context.Context) ([]string, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := s.scopedLines(ctx, actor)
	if err != nil {
		return nil, err
	}
	return report.AvailableDates(lines, s.loc), nil
}
