package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/report"
	"expensedesk/backend/internal/store"
)

var naiveDateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	domain.DateLayout,
}

// parseAddedDate accepts RFC 3339 timestamps and naive date-times; naive
// values are read in the service location.
func (s *Service) parseAddedDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, validationErrorf("added_date is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveDateTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, s.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, validationErrorf("added_date %q is not a valid date-time", raw)
}

func normalizeCount(count int) (int, error) {
	if count < 0 {
		return 0, validationErrorf("count must be at least 1")
	}
	if count == 0 {
		return 1, nil
	}
	return count, nil
}

// recomputeTotal rewrites the order's calculated price as the sum of its
// lines' item price times count. It must run in the scope of the mutation.
func recomputeTotal(ctx context.Context, repo store.Repository, orderID int64) (decimal.Decimal, error) {
	lines, err := repo.ListOrderItems(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ItemID)
	}
	items, err := repo.GetItemsByIDs(ctx, ids)
	if err != nil {
		return decimal.Zero, err
	}
	for _, id := range ids {
		if _, ok := items[id]; !ok {
			return decimal.Zero, fmt.Errorf("item %d: %w", id, store.ErrNotFound)
		}
	}

	total := report.OrderTotal(lines, items)
	if err := repo.UpdateOrderPrice(ctx, orderID, total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func requireItems(ctx context.Context, repo store.Repository, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	items, err := repo.GetItemsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := items[id]; !ok {
			return fmt.Errorf("item %d: %w", id, store.ErrNotFound)
		}
	}
	return nil
}

type validLine struct {
	itemID    int64
	count     int
	addedDate time.Time
}

// CreateOrderWithItems validates every line before writing anything, then
// creates the order, its lines and the derived total in one scope.
func (s *Service) CreateOrderWithItems(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if err := Authorize(actor, owned(KindOrder, actor.UserID), ActionCreate); err != nil {
		return domain.Order{}, err
	}

	lines := make([]validLine, 0, len(req.OrderItems))
	itemIDs := make([]int64, 0, len(req.OrderItems))
	for i, input := range req.OrderItems {
		if input.ItemID < 1 {
			return domain.Order{}, validationErrorf("order_items[%d]: item is required", i)
		}
		count, err := normalizeCount(input.Count)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order_items[%d]: %w", i, err)
		}
		addedDate, err := s.parseAddedDate(input.AddedDate)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order_items[%d]: %w", i, err)
		}
		lines = append(lines, validLine{itemID: input.ItemID, count: count, addedDate: addedDate})
		itemIDs = append(itemIDs, input.ItemID)
	}

	now := s.clock()
	var result domain.Order
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		if err := requireItems(ctx, repo, itemIDs); err != nil {
			return err
		}
		order, err := repo.CreateOrder(ctx, domain.Order{
			CreatedUser:     actor.UserID,
			CalculatedPrice: decimal.Zero,
			CreatedDate:     now,
			AddedDate:       domain.NewDate(now.In(s.loc)),
		})
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := repo.CreateOrderItem(ctx, domain.OrderItem{
				OrderID:   order.ID,
				ItemID:    line.itemID,
				Count:     line.count,
				AddedDate: line.addedDate,
			}); err != nil {
				return err
			}
		}
		if _, err := recomputeTotal(ctx, repo, order.ID); err != nil {
			return err
		}
		full, err := repo.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		result = *full
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// replacePlan is the diff between an order's current lines and a submitted
// list. Omitted lines are deleted.
type replacePlan struct {
	update []domain.OrderItem
	create []domain.OrderItem
	remove []int64
}

func planReplace(orderID int64, current []domain.OrderItem, submitted []domain.OrderItemInput, now time.Time) (replacePlan, error) {
	existing := make(map[int64]domain.OrderItem, len(current))
	for _, line := range current {
		existing[line.ID] = line
	}

	var plan replacePlan
	kept := make(map[int64]struct{}, len(submitted))
	for i, input := range submitted {
		if input.ID != nil {
			if line, ok := existing[*input.ID]; ok {
				if _, dup := kept[line.ID]; dup {
					return replacePlan{}, validationErrorf("order_items[%d]: line %d submitted twice", i, line.ID)
				}
				if input.Count < 0 {
					return replacePlan{}, validationErrorf("order_items[%d]: count must be at least 1", i)
				}
				if input.Count > 0 {
					line.Count = input.Count
				}
				line.AddedDate = now
				kept[line.ID] = struct{}{}
				plan.update = append(plan.update, line)
				continue
			}
		}

		if input.ItemID < 1 {
			return replacePlan{}, validationErrorf("order_items[%d]: item is required", i)
		}
		count, err := normalizeCount(input.Count)
		if err != nil {
			return replacePlan{}, fmt.Errorf("order_items[%d]: %w", i, err)
		}
		plan.create = append(plan.create, domain.OrderItem{
			OrderID:   orderID,
			ItemID:    input.ItemID,
			Count:     count,
			AddedDate: now,
		})
	}

	for _, line := range current {
		if _, ok := kept[line.ID]; !ok {
			plan.remove = append(plan.remove, line.ID)
		}
	}
	return plan, nil
}

// ReplaceOrderItems syncs an order's lines with the submitted list: matched
// lines are updated, unmatched ones created, and lines left out deleted.
func (s *Service) ReplaceOrderItems(ctx context.Context, orderID int64, req domain.OrderReplaceRequest) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.clock()
	var result domain.Order
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		order, err := repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, owned(KindOrder, order.CreatedUser), ActionUpdate); err != nil {
			return err
		}

		plan, err := planReplace(order.ID, order.Items, req.OrderItems, now)
		if err != nil {
			return err
		}
		newItemIDs := make([]int64, 0, len(plan.create))
		for _, line := range plan.create {
			newItemIDs = append(newItemIDs, line.ItemID)
		}
		if err := requireItems(ctx, repo, newItemIDs); err != nil {
			return err
		}

		for _, line := range plan.update {
			if _, err := repo.UpdateOrderItem(ctx, line); err != nil {
				return err
			}
		}
		for _, line := range plan.create {
			if _, err := repo.CreateOrderItem(ctx, line); err != nil {
				return err
			}
		}
		for _, id := range plan.remove {
			if err := repo.DeleteOrderItem(ctx, id); err != nil {
				return err
			}
		}

		if _, err := recomputeTotal(ctx, repo, order.ID); err != nil {
			return err
		}
		full, err := repo.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		result = *full
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// AddOrderItem appends one line to an existing order. added_date defaults to
// the current moment.
func (s *Service) AddOrderItem(ctx context.Context, req domain.OrderItemCreateRequest) (domain.OrderItem, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OrderItem{}, err
	}
	if req.OrderID < 1 {
		return domain.OrderItem{}, validationErrorf("order is required")
	}
	if req.ItemID < 1 {
		return domain.OrderItem{}, validationErrorf("item is required")
	}
	count, err := normalizeCount(req.Count)
	if err != nil {
		return domain.OrderItem{}, err
	}
	addedDate := s.clock()
	if strings.TrimSpace(req.AddedDate) != "" {
		if addedDate, err = s.parseAddedDate(req.AddedDate); err != nil {
			return domain.OrderItem{}, err
		}
	}

	var created domain.OrderItem
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		order, err := repo.GetOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, owned(KindOrder, order.CreatedUser), ActionUpdate); err != nil {
			return err
		}
		if err := requireItems(ctx, repo, []int64{req.ItemID}); err != nil {
			return err
		}
		line, err := repo.CreateOrderItem(ctx, domain.OrderItem{
			OrderID:   order.ID,
			ItemID:    req.ItemID,
			Count:     count,
			AddedDate: addedDate,
		})
		if err != nil {
			return err
		}
		if _, err := recomputeTotal(ctx, repo, order.ID); err != nil {
			return err
		}
		created = *line
		return nil
	})
	if err != nil {
		return domain.OrderItem{}, err
	}
	return created, nil
}

func (s *Service) GetOrderItem(ctx context.Context, id int64) (domain.OrderItem, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OrderItem{}, err
	}
	line, err := s.repo.GetOrderItem(ctx, id)
	if err != nil {
		return domain.OrderItem{}, classify(err)
	}
	order, err := s.repo.GetOrder(ctx, line.OrderID)
	if err != nil {
		return domain.OrderItem{}, classify(err)
	}
	if err := Authorize(actor, owned(KindOrder, order.CreatedUser), ActionRead); err != nil {
		return domain.OrderItem{}, err
	}
	return *line, nil
}

// editableLine loads a line with its order and rejects lines the actor may not
// touch or that were not added today.
func (s *Service) editableLine(ctx context.Context, repo store.Repository, actor domain.Actor, id int64, action Action) (*domain.OrderItem, error) {
	line, err := repo.GetOrderItem(ctx, id)
	if err != nil {
		return nil, err
	}
	order, err := repo.GetOrder(ctx, line.OrderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, owned(KindOrder, order.CreatedUser), action); err != nil {
		return nil, err
	}
	if s.dayOf(line.AddedDate) != s.today() {
		return nil, permissionErrorf("order item %d can only be changed on the day it was added", id)
	}
	return line, nil
}

func (s *Service) EditOrderItem(ctx context.Context, id int64, req domain.OrderItemUpdateRequest) (domain.OrderItem, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OrderItem{}, err
	}
	if req.Count != nil && *req.Count < 1 {
		return domain.OrderItem{}, validationErrorf("count must be at least 1")
	}
	if req.ItemID != nil && *req.ItemID < 1 {
		return domain.OrderItem{}, validationErrorf("item is required")
	}

	var result domain.OrderItem
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		line, err := s.editableLine(ctx, repo, actor, id, ActionUpdate)
		if err != nil {
			return err
		}
		if req.ItemID != nil {
			if err := requireItems(ctx, repo, []int64{*req.ItemID}); err != nil {
				return err
			}
			line.ItemID = *req.ItemID
		}
		if req.Count != nil {
			line.Count = *req.Count
		}
		updated, err := repo.UpdateOrderItem(ctx, *line)
		if err != nil {
			return err
		}
		if _, err := recomputeTotal(ctx, repo, line.OrderID); err != nil {
			return err
		}
		result = *updated
		return nil
	})
	if err != nil {
		return domain.OrderItem{}, err
	}
	return result, nil
}

func (s *Service) DeleteOrderItem(ctx context.Context, id int64) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		line, err := s.editableLine(ctx, repo, actor, id, ActionDelete)
		if err != nil {
			return err
		}
		if err := repo.DeleteOrderItem(ctx, id); err != nil {
			return err
		}
		_, err = recomputeTotal(ctx, repo, line.OrderID)
		return err
	})
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var userID *int64
	if !actor.IsAdmin() {
		userID = &actor.UserID
	}
	orders, err := s.repo.ListOrders(ctx, userID)
	return orders, classify(err)
}

func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, classify(err)
	}
	if err := Authorize(actor, owned(KindOrder, order.CreatedUser), ActionRead); err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// DeleteOrder removes an order with its lines. Only orders added today may be
// deleted.
func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		order, err := repo.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, owned(KindOrder, order.CreatedUser), ActionDelete); err != nil {
			return err
		}
		if order.AddedDate.String() != s.today() {
			return permissionErrorf("order %d can only be deleted on the day it was added", id)
		}
		return repo.DeleteOrder(ctx, id)
	})
}

func parseDateAndUser(rawDate string, username string) (string, string, error) {
	date, err := domain.ParseDate(rawDate)
	if err != nil {
		return "", "", validationErrorf("date must be YYYY-MM-DD")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", "", validationErrorf("username is required")
	}
	return date.String(), username, nil
}

// linesOnDay loads username's order lines added on day after checking that
// actor may perform action on that user's orders.
func (s *Service) linesOnDay(ctx context.Context, repo store.Repository, actor domain.Actor, day string, username string, action Action) ([]domain.OrderItemRow, error) {
	user, err := repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, owned(KindOrder, user.ID), action); err != nil {
		return nil, err
	}

	rows, err := repo.ListOrderItemRows(ctx, &user.ID)
	if err != nil {
		return nil, err
	}
	result := make([]domain.OrderItemRow, 0, len(rows))
	for _, row := range rows {
		if s.dayOf(row.AddedDate) == day {
			result = append(result, row)
		}
	}
	return result, nil
}

// OrderItemsByDateAndUser lists a user's order lines added on one day.
// Non-admins may only look up themselves.
func (s *Service) OrderItemsByDateAndUser(ctx context.Context, rawDate string, username string) ([]domain.OrderItemRow, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	day, username, err := parseDateAndUser(rawDate, username)
	if err != nil {
		return nil, err
	}
	rows, err := s.linesOnDay(ctx, s.repo, actor, day, username, ActionRead)
	return rows, classify(err)
}

// DeleteOrdersByDateAndUser deletes, in one scope, every order of username
// that has a line added on the given day, and returns how many it removed.
// Non-admins may only clear their own orders for today.
func (s *Service) DeleteOrdersByDateAndUser(ctx context.Context, rawDate string, username string) (int, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return 0, err
	}
	day, username, err := parseDateAndUser(rawDate, username)
	if err != nil {
		return 0, err
	}
	if !actor.IsAdmin() && day != s.today() {
		return 0, permissionErrorf("orders can only be deleted on the day they were added")
	}

	deleted := 0
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		rows, err := s.linesOnDay(ctx, repo, actor, day, username, ActionDelete)
		if err != nil {
			return err
		}
		seen := make(map[int64]bool, len(rows))
		for _, row := range rows {
			if seen[row.OrderID] {
				continue
			}
			seen[row.OrderID] = true
			if err := repo.DeleteOrder(ctx, row.OrderID); err != nil {
				return err
			}
		}
		deleted = len(seen)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
