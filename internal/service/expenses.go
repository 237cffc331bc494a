package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/store"
)

func normalizeExpenseType(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.ExpenseTypeProduct, nil
	}
	if len(raw) > 50 {
		return "", validationErrorf("expense_type is too long")
	}
	return raw, nil
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return validationErrorf("amount must not be negative")
	}
	if !amount.Equal(amount.Round(2)) {
		return validationErrorf("amount must have at most 2 decimal places")
	}
	return nil
}

// CreateExpense stores a new expense for the caller and, in the same scope,
// notifies admins and seeds the placeholder order, pending transaction and
// the link that reconciles them.
func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Expense{}, err
	}
	if err := Authorize(actor, owned(KindExpense, actor.UserID), ActionCreate); err != nil {
		return domain.Expense{}, err
	}

	if strings.TrimSpace(req.Date) == "" {
		return domain.Expense{}, validationErrorf("date is required")
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return domain.Expense{}, validationErrorf("date must be YYYY-MM-DD")
	}
	if req.Amount == nil {
		return domain.Expense{}, validationErrorf("amount is required")
	}
	if err := validateAmount(*req.Amount); err != nil {
		return domain.Expense{}, err
	}
	expenseType, err := normalizeExpenseType(req.ExpenseType)
	if err != nil {
		return domain.Expense{}, err
	}
	var bill *string
	if req.Bill != nil && strings.TrimSpace(*req.Bill) != "" {
		ref := strings.TrimSpace(*req.Bill)
		bill = &ref
	}

	now := s.clock()
	var created domain.Expense
	err = s.atomic(ctx, func(repo store.Repository, box *outbox) error {
		expense, err := repo.CreateExpense(ctx, domain.Expense{
			UserID:      actor.UserID,
			Date:        date,
			Description: strings.TrimSpace(req.Description),
			ExpenseType: expenseType,
			Amount:      req.Amount.Round(2),
			Bill:        bill,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		if bill != nil {
			if _, err := repo.CreateBill(ctx, domain.Bill{ExpenseID: expense.ID, FileRef: *bill, UploadedAt: now}); err != nil {
				return err
			}
		}

		if err := dispatch(ctx, repo, box, submittedEvent(actor.Username, *expense, now)); err != nil {
			return err
		}

		order, err := repo.CreateOrder(ctx, domain.Order{
			CreatedUser:     actor.UserID,
			CalculatedPrice: expense.Amount,
			CreatedDate:     now,
			AddedDate:       domain.NewDate(now.In(s.loc)),
		})
		if err != nil {
			return err
		}
		tx, err := repo.CreateTransaction(ctx, domain.Transaction{
			UserID:     actor.UserID,
			TotalPrice: expense.Amount,
			Status:     domain.TransactionPending,
			FromDate:   now,
			ToDate:     now,
		})
		if err != nil {
			return err
		}
		if _, err := repo.CreateTransactionOrder(ctx, domain.TransactionOrder{
			TransactionID: tx.ID,
			ExpenseID:     &expense.ID,
			OrderID:       order.ID,
			CreatedDate:   now,
		}); err != nil {
			return err
		}

		created = *expense
		return nil
	})
	if err != nil {
		return domain.Expense{}, err
	}
	return created, nil
}

// UpdateExpense applies field changes and re-reconciles the expense.
//
// The order bound to the expense is the most recent order of the acting
// user, not of the expense owner. An admin edit of someone else's expense
// moves its link onto the admin's latest order, so the owner's order loses
// the reconciliation.
func (s *Service) UpdateExpense(ctx context.Context, id int64, req domain.ExpenseUpdateRequest) (domain.Expense, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Expense{}, err
	}

	if req.Amount != nil {
		if err := validateAmount(*req.Amount); err != nil {
			return domain.Expense{}, err
		}
	}
	var expenseType string
	if req.ExpenseType != nil {
		if expenseType, err = normalizeExpenseType(*req.ExpenseType); err != nil {
			return domain.Expense{}, err
		}
	}

	now := s.clock()
	var result domain.Expense
	err = s.atomic(ctx, func(repo store.Repository, box *outbox) error {
		existing, err := repo.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, owned(KindExpense, existing.UserID), ActionUpdate); err != nil {
			return err
		}
		if req.TouchesAdminFields() {
			if err := Authorize(actor, owned(KindExpense, existing.UserID), ActionReview); err != nil {
				return err
			}
		}

		wasVerified := existing.IsVerified
		next := *existing
		if req.Description != nil {
			next.Description = strings.TrimSpace(*req.Description)
		}
		if req.ExpenseType != nil {
			next.ExpenseType = expenseType
		}
		if req.Amount != nil {
			next.Amount = req.Amount.Round(2)
		}
		if req.IsVerified != nil {
			next.IsVerified = *req.IsVerified
		}
		if req.IsRefunded != nil {
			next.IsRefunded = *req.IsRefunded
		}

		updated, err := repo.UpdateExpense(ctx, next)
		if err != nil {
			return err
		}
		if !wasVerified && updated.IsVerified {
			if err := dispatch(ctx, repo, box, verifiedEvent(actor, *updated, now)); err != nil {
				return err
			}
		}

		order, err := s.bindActorOrder(ctx, repo, actor, updated.Amount, now)
		if err != nil {
			return err
		}
		if err := s.reconcileLink(ctx, repo, *updated, order.ID, now); err != nil {
			return err
		}

		result = *updated
		return nil
	})
	if err != nil {
		return domain.Expense{}, err
	}
	return result, nil
}

// bindActorOrder overwrites the calculated price of the actor's latest order
// with amount, creating a seeded order when the actor has none. The overwrite
// does not recompute from order lines.
func (s *Service) bindActorOrder(ctx context.Context, repo store.Repository, actor domain.Actor, amount decimal.Decimal, now time.Time) (domain.Order, error) {
	latest, err := repo.LatestOrderByUser(ctx, actor.UserID)
	if errors.Is(err, store.ErrNotFound) {
		created, err := repo.CreateOrder(ctx, domain.Order{
			CreatedUser:     actor.UserID,
			CalculatedPrice: amount,
			CreatedDate:     now,
			AddedDate:       domain.NewDate(now.In(s.loc)),
		})
		if err != nil {
			return domain.Order{}, err
		}
		return *created, nil
	}
	if err != nil {
		return domain.Order{}, err
	}
	if err := repo.UpdateOrderPrice(ctx, latest.ID, amount); err != nil {
		return domain.Order{}, err
	}
	latest.CalculatedPrice = amount
	return *latest, nil
}

// reconcileLink points the expense's TransactionOrder at orderID and syncs the
// linked transaction's total and status. An expense without a link gets a new
// transaction and link.
func (s *Service) reconcileLink(ctx context.Context, repo store.Repository, expense domain.Expense, orderID int64, now time.Time) error {
	status := domain.TransactionPending
	if expense.IsRefunded {
		status = domain.TransactionCompleted
	}

	link, err := repo.GetTransactionOrderByExpense(ctx, expense.ID)
	if errors.Is(err, store.ErrNotFound) {
		tx, err := repo.CreateTransaction(ctx, domain.Transaction{
			UserID:     expense.UserID,
			TotalPrice: expense.Amount,
			Status:     status,
			FromDate:   now,
			ToDate:     now,
		})
		if err != nil {
			return err
		}
		_, err = repo.CreateTransactionOrder(ctx, domain.TransactionOrder{
			TransactionID: tx.ID,
			ExpenseID:     &expense.ID,
			OrderID:       orderID,
			CreatedDate:   now,
		})
		return err
	}
	if err != nil {
		return err
	}

	if link.OrderID != orderID {
		link.OrderID = orderID
		if _, err := repo.UpdateTransactionOrder(ctx, *link); err != nil {
			return err
		}
	}

	tx, err := repo.GetTransaction(ctx, link.TransactionID)
	if err != nil {
		return err
	}
	tx.TotalPrice = expense.Amount
	tx.Status = status
	_, err = repo.UpdateTransaction(ctx, *tx)
	return err
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	var userID *int64
	if !actor.IsAdmin() {
		userID = &actor.UserID
	}
	expenses, err := s.repo.ListExpenses(ctx, userID)
	return expenses, classify(err)
}

func (s *Service) GetExpense(ctx context.Context, id int64) (domain.Expense, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Expense{}, err
	}
	expense, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return domain.Expense{}, classify(err)
	}
	if err := Authorize(actor, owned(KindExpense, expense.UserID), ActionRead); err != nil {
		return domain.Expense{}, err
	}
	return *expense, nil
}

func (s *Service) DeleteExpense(ctx context.Context, id int64) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		expense, err := repo.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, owned(KindExpense, expense.UserID), ActionDelete); err != nil {
			return err
		}
		return repo.DeleteExpense(ctx, id)
	})
}
