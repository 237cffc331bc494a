package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/store"
)

func TestAtomicDiscardsScopeOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	admin, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Atomic(ctx, func(repo store.Repository) error {
		if _, err := repo.CreateOrder(ctx, domain.Order{CreatedUser: admin.ID, CalculatedPrice: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	orders, err := s.ListOrders(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestAtomicPublishesScopeOnSuccess(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	admin, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	var orderID int64
	err = s.Atomic(ctx, func(repo store.Repository) error {
		order, err := repo.CreateOrder(ctx, domain.Order{CreatedUser: admin.ID})
		if err != nil {
			return err
		}
		orderID = order.ID
		// nested scopes join the outer one
		return repo.Atomic(ctx, func(inner store.Repository) error {
			return inner.UpdateOrderPrice(ctx, order.ID, decimal.NewFromInt(42))
		})
	})
	require.NoError(t, err)

	order, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, order.CalculatedPrice.Equal(decimal.NewFromInt(42)))
}

func TestAdminsResolveThroughRoleName(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	staff, err := s.CreateUser(ctx, domain.User{Username: "staff", Password: "x"})
	require.NoError(t, err)
	assert.False(t, staff.IsAdmin())

	admins, err := s.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "admin", admins[0].Username)

	_, err = s.CreateUser(ctx, domain.User{Username: "ADMIN", Password: "x"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestDeleteExpenseDetachesTransactionOrder(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	admin, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	expense, err := s.CreateExpense(ctx, domain.Expense{UserID: admin.ID, Amount: decimal.NewFromInt(3)})
	require.NoError(t, err)
	order, err := s.CreateOrder(ctx, domain.Order{CreatedUser: admin.ID})
	require.NoError(t, err)
	tx, err := s.CreateTransaction(ctx, domain.Transaction{UserID: admin.ID, Status: domain.TransactionPending})
	require.NoError(t, err)
	_, err = s.CreateTransactionOrder(ctx, domain.TransactionOrder{TransactionID: tx.ID, ExpenseID: &expense.ID, OrderID: order.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteExpense(ctx, expense.ID))

	rows, err := s.ListExpenseLinkRows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, err = s.GetTransactionOrderByExpense(ctx, expense.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteItemReferencedByOrderLineConflicts(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	admin, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	item, err := s.CreateItem(ctx, domain.Item{ItemName: "Tea", ItemPrice: decimal.NewFromInt(2), CreatedUser: admin.ID})
	require.NoError(t, err)
	order, err := s.CreateOrder(ctx, domain.Order{CreatedUser: admin.ID})
	require.NoError(t, err)
	_, err = s.CreateOrderItem(ctx, domain.OrderItem{OrderID: order.ID, ItemID: item.ID, Count: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteItem(ctx, item.ID), store.ErrConflict)
}

func TestSeedReportsConflictOnPopulatedStore(t *testing.T) {
	s := NewSeeded()

	err := seed(s, "$2a$10$hash")
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Contains(t, err.Error(), "admin role")
}

func TestDeleteTransactionDropsItsLinks(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	admin, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	expense, err := s.CreateExpense(ctx, domain.Expense{UserID: admin.ID, Amount: decimal.NewFromInt(3)})
	require.NoError(t, err)
	order, err := s.CreateOrder(ctx, domain.Order{CreatedUser: admin.ID})
	require.NoError(t, err)
	tx, err := s.CreateTransaction(ctx, domain.Transaction{UserID: admin.ID, Status: domain.TransactionPending})
	require.NoError(t, err)
	_, err = s.CreateTransactionOrder(ctx, domain.TransactionOrder{TransactionID: tx.ID, ExpenseID: &expense.ID, OrderID: order.ID})
	require.NoError(t, err)

	linked, err := s.TransactionHasExpense(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, linked)

	require.NoError(t, s.DeleteTransaction(ctx, tx.ID))
	_, err = s.GetTransactionOrderByExpense(ctx, expense.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, tx.ID), store.ErrNotFound)
}

func TestGetNotificationIsScopedToReceiver(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	admin, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)

	n, err := s.CreateNotification(ctx, domain.Notification{SenderID: admin.ID, ReceiverID: admin.ID, Message: "hello"})
	require.NoError(t, err)

	got, err := s.GetNotification(ctx, n.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Message)

	_, err = s.GetNotification(ctx, n.ID, admin.ID+100)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
