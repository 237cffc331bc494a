package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/store"
)

func (s *Service) ListRoles(ctx context.Context) ([]domain.Role, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, Resource{Kind: KindRole}, ActionRead); err != nil {
		return nil, err
	}
	roles, err := s.repo.ListRoles(ctx)
	return roles, classify(err)
}

func (s *Service) CreateRole(ctx context.Context, req domain.RoleRequest) (domain.Role, error) {
	return s.saveRole(ctx, 0, req)
}

func (s *Service) UpdateRole(ctx context.Context, id int64, req domain.RoleRequest) (domain.Role, error) {
	return s.saveRole(ctx, id, req)
}

func (s *Service) saveRole(ctx context.Context, id int64, req domain.RoleRequest) (domain.Role, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Role{}, err
	}
	action := ActionCreate
	if id != 0 {
		action = ActionUpdate
	}
	if err := Authorize(actor, Resource{Kind: KindRole}, action); err != nil {
		return domain.Role{}, err
	}
	name := strings.TrimSpace(req.RoleName)
	if name == "" {
		return domain.Role{}, validationErrorf("role_name is required")
	}

	var saved domain.Role
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		var role *domain.Role
		var err error
		if id == 0 {
			role, err = repo.CreateRole(ctx, domain.Role{RoleName: name})
		} else {
			role, err = repo.UpdateRole(ctx, domain.Role{ID: id, RoleName: name})
		}
		if err != nil {
			return err
		}
		saved = *role
		return nil
	})
	return saved, err
}

func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if err := Authorize(actor, Resource{Kind: KindRole}, ActionDelete); err != nil {
		return err
	}
	return s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		return repo.DeleteRole(ctx, id)
	})
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, Resource{Kind: KindCategory}, ActionRead); err != nil {
		return nil, err
	}
	categories, err := s.repo.ListCategories(ctx)
	return categories, classify(err)
}

func (s *Service) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Category{}, err
	}
	category, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, classify(err)
	}
	return *category, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (domain.Category, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	if err := Authorize(actor, Resource{Kind: KindCategory}, ActionCreate); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.CategoryName)
	if name == "" {
		return domain.Category{}, validationErrorf("category_name is required")
	}

	var saved domain.Category
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		category, err := repo.CreateCategory(ctx, domain.Category{
			CategoryName: name,
			CreatedUser:  actor.UserID,
			CreatedAt:    s.clock(),
		})
		if err != nil {
			return err
		}
		saved = *category
		return nil
	})
	return saved, err
}

func (s *Service) UpdateCategory(ctx context.Context, id int64, req domain.CategoryRequest) (domain.Category, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	if err := Authorize(actor, Resource{Kind: KindCategory}, ActionUpdate); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.CategoryName)
	if name == "" {
		return domain.Category{}, validationErrorf("category_name is required")
	}

	var saved domain.Category
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		existing, err := repo.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		existing.CategoryName = name
		category, err := repo.UpdateCategory(ctx, *existing)
		if err != nil {
			return err
		}
		saved = *category
		return nil
	})
	return saved, err
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if err := Authorize(actor, Resource{Kind: KindCategory}, ActionDelete); err != nil {
		return err
	}
	return s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		return repo.DeleteCategory(ctx, id)
	})
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, Resource{Kind: KindItem}, ActionRead); err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx)
	return items, classify(err)
}

func (s *Service) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Item{}, err
	}
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, classify(err)
	}
	return *item, nil
}

func validateItemRequest(req domain.ItemRequest) (string, error) {
	name := strings.TrimSpace(req.ItemName)
	if name == "" {
		return "", validationErrorf("item_name is required")
	}
	if req.ItemPrice.IsNegative() {
		return "", validationErrorf("item_price must not be negative")
	}
	return name, nil
}

// CreateItem stores an item and opens its price history.
func (s *Service) CreateItem(ctx context.Context, req domain.ItemRequest) (domain.Item, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if err := Authorize(actor, Resource{Kind: KindItem}, ActionCreate); err != nil {
		return domain.Item{}, err
	}
	name, err := validateItemRequest(req)
	if err != nil {
		return domain.Item{}, err
	}

	now := s.clock()
	var saved domain.Item
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		item, err := repo.CreateItem(ctx, domain.Item{
			ItemName:    name,
			ItemPrice:   req.ItemPrice.Round(2),
			CategoryID:  req.CategoryID,
			CreatedUser: actor.UserID,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		if err := repo.CreatePriceHistory(ctx, domain.ItemPriceHistory{ItemID: item.ID, Price: item.ItemPrice, Date: now}); err != nil {
			return err
		}
		saved = *item
		return nil
	})
	return saved, err
}

// UpdateItem appends a price history entry whenever the price changes.
// Existing order totals are not recomputed.
func (s *Service) UpdateItem(ctx context.Context, id int64, req domain.ItemRequest) (domain.Item, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if err := Authorize(actor, Resource{Kind: KindItem}, ActionUpdate); err != nil {
		return domain.Item{}, err
	}
	name, err := validateItemRequest(req)
	if err != nil {
		return domain.Item{}, err
	}

	now := s.clock()
	var saved domain.Item
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		existing, err := repo.GetItem(ctx, id)
		if err != nil {
			return err
		}
		price := req.ItemPrice.Round(2)
		priceChanged := !existing.ItemPrice.Equal(price)

		existing.ItemName = name
		existing.ItemPrice = price
		existing.CategoryID = req.CategoryID
		item, err := repo.UpdateItem(ctx, *existing)
		if err != nil {
			return err
		}
		if priceChanged {
			if err := repo.CreatePriceHistory(ctx, domain.ItemPriceHistory{ItemID: item.ID, Price: price, Date: now}); err != nil {
				return err
			}
		}
		saved = *item
		return nil
	})
	return saved, err
}

func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if err := Authorize(actor, Resource{Kind: KindItem}, ActionDelete); err != nil {
		return err
	}
	return s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		return repo.DeleteItem(ctx, id)
	})
}

// ListPriceHistory returns an item's prices, newest first.
func (s *Service) ListPriceHistory(ctx context.Context, itemID int64) ([]domain.ItemPriceHistory, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return nil, classify(err)
	}
	history, err := s.repo.ListPriceHistory(ctx, itemID)
	return history, classify(err)
}

func (s *Service) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	transactions, err := s.repo.ListTransactions(ctx, actor.UserID)
	return transactions, classify(err)
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, classify(err)
	}
	if err := Authorize(actor, owned(KindTransaction, tx.UserID), ActionRead); err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func validTransactionStatus(status string) bool {
	return status == domain.TransactionPending || status == domain.TransactionCompleted
}

// applyTransaction copies the set fields of req onto tx and checks the result.
func applyTransaction(tx *domain.Transaction, req domain.TransactionRequest) error {
	if req.TotalPrice != nil {
		if err := validateAmount(*req.TotalPrice); err != nil {
			return err
		}
		tx.TotalPrice = *req.TotalPrice
	}
	if req.Status != nil {
		status := strings.TrimSpace(*req.Status)
		if !validTransactionStatus(status) {
			return validationErrorf("status must be %s or %s", domain.TransactionPending, domain.TransactionCompleted)
		}
		tx.Status = status
	}
	if req.FromDate != nil {
		tx.FromDate = req.FromDate.UTC()
	}
	if req.ToDate != nil {
		tx.ToDate = req.ToDate.UTC()
	}
	if tx.ToDate.Before(tx.FromDate) {
		return validationErrorf("to_date must not be before from_date")
	}
	return nil
}

// CreateTransaction records a manual transaction owned by the caller.
func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionRequest) (domain.Transaction, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := Authorize(actor, owned(KindTransaction, actor.UserID), ActionCreate); err != nil {
		return domain.Transaction{}, err
	}
	if req.TotalPrice == nil {
		return domain.Transaction{}, validationErrorf("total_price is required")
	}

	now := s.clock()
	tx := domain.Transaction{
		UserID:     actor.UserID,
		TotalPrice: decimal.Zero,
		Status:     domain.TransactionPending,
		FromDate:   now,
		ToDate:     now,
	}
	if err := applyTransaction(&tx, req); err != nil {
		return domain.Transaction{}, err
	}

	var created domain.Transaction
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		saved, err := repo.CreateTransaction(ctx, tx)
		if err != nil {
			return err
		}
		created = *saved
		return nil
	})
	return created, err
}

// editableTransaction loads a transaction for update or delete. Transactions
// linked to an expense are maintained by expense reconciliation and reject
// direct edits.
func editableTransaction(ctx context.Context, repo store.Repository, actor domain.Actor, id int64, action Action) (*domain.Transaction, error) {
	tx, err := repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, owned(KindTransaction, tx.UserID), action); err != nil {
		return nil, err
	}
	linked, err := repo.TransactionHasExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if linked {
		return nil, fmt.Errorf("transaction %d is reconciled with an expense: %w", id, store.ErrConflict)
	}
	return tx, nil
}

func (s *Service) UpdateTransaction(ctx context.Context, id int64, req domain.TransactionRequest) (domain.Transaction, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}

	var updated domain.Transaction
	err = s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		tx, err := editableTransaction(ctx, repo, actor, id, ActionUpdate)
		if err != nil {
			return err
		}
		if err := applyTransaction(tx, req); err != nil {
			return err
		}
		saved, err := repo.UpdateTransaction(ctx, *tx)
		if err != nil {
			return err
		}
		updated = *saved
		return nil
	})
	return updated, err
}

func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return s.atomic(ctx, func(repo store.Repository, _ *outbox) error {
		if _, err := editableTransaction(ctx, repo, actor, id, ActionDelete); err != nil {
			return err
		}
		return repo.DeleteTransaction(ctx, id)
	})
}
