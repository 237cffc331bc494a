package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/store"
)

func TestItemPriceHistoryAppendsOnPriceChange(t *testing.T) {
	f := newFixture(t)
	ctx := f.as(f.admin)

	tea := f.item(t, "Tea", "2")
	_, err := f.svc.UpdateItem(ctx, tea.ID, domain.ItemRequest{ItemName: "Green tea", ItemPrice: decimal.RequireFromString("2.00")})
	require.NoError(t, err)

	f.now = f.now.Add(1)
	_, err = f.svc.UpdateItem(ctx, tea.ID, domain.ItemRequest{ItemName: "Green tea", ItemPrice: decimal.RequireFromString("3")})
	require.NoError(t, err)

	history, err := f.svc.ListPriceHistory(f.as(f.staff), tea.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Price.Equal(decimal.NewFromInt(3)))
	assert.True(t, history[1].Price.Equal(decimal.NewFromInt(2)))
}

func TestCatalogWritesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	staff := f.as(f.staff)

	_, err := f.svc.CreateItem(staff, domain.ItemRequest{ItemName: "Tea", ItemPrice: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.svc.CreateCategory(staff, domain.CategoryRequest{CategoryName: "Drinks"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.svc.CreateRole(staff, domain.RoleRequest{RoleName: "Auditor"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	items, err := f.svc.ListItems(staff)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCategoryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := f.as(f.admin)

	drinks, err := f.svc.CreateCategory(ctx, domain.CategoryRequest{CategoryName: " Drinks "})
	require.NoError(t, err)
	assert.Equal(t, "Drinks", drinks.CategoryName)

	tea, err := f.svc.CreateItem(ctx, domain.ItemRequest{ItemName: "Tea", ItemPrice: decimal.NewFromInt(1), CategoryID: &drinks.ID})
	require.NoError(t, err)

	renamed, err := f.svc.UpdateCategory(ctx, drinks.ID, domain.CategoryRequest{CategoryName: "Beverages"})
	require.NoError(t, err)
	assert.Equal(t, "Beverages", renamed.CategoryName)

	require.NoError(t, f.svc.DeleteCategory(ctx, drinks.ID))
	item, err := f.svc.GetItem(ctx, tea.ID)
	require.NoError(t, err)
	assert.Nil(t, item.CategoryID)

	_, err = f.svc.CreateCategory(ctx, domain.CategoryRequest{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRoleNamesAreUnique(t *testing.T) {
	f := newFixture(t)
	ctx := f.as(f.admin)

	_, err := f.svc.CreateRole(ctx, domain.RoleRequest{RoleName: "admin"})
	assert.ErrorIs(t, err, store.ErrConflict)

	auditor, err := f.svc.CreateRole(ctx, domain.RoleRequest{RoleName: "Auditor"})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteRole(ctx, auditor.ID))
}

func TestTransactionsAreVisibleToOwner(t *testing.T) {
	f := newFixture(t)
	other := f.addUser(t, "andi", nil)

	_, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("5")})
	require.NoError(t, err)

	txs, err := f.svc.ListTransactions(f.as(f.staff))
	require.NoError(t, err)
	require.Len(t, txs, 1)

	_, err = f.svc.GetTransaction(f.as(other), txs[0].ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	got, err := f.svc.GetTransaction(f.as(f.admin), txs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, txs[0], got)
}

func TestManualTransactionLifecycle(t *testing.T) {
	f := newFixture(t)
	other := f.addUser(t, "andi", nil)

	_, err := f.svc.CreateTransaction(f.as(f.staff), domain.TransactionRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	tx, err := f.svc.CreateTransaction(f.as(f.staff), domain.TransactionRequest{TotalPrice: amount("12.50")})
	require.NoError(t, err)
	assert.Equal(t, f.staff.UserID, tx.UserID)
	assert.Equal(t, domain.TransactionPending, tx.Status)
	assert.True(t, tx.TotalPrice.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, f.now, tx.FromDate)

	_, err = f.svc.UpdateTransaction(f.as(f.staff), tx.ID, domain.TransactionRequest{Status: ptr("Lost")})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.UpdateTransaction(f.as(f.staff), tx.ID, domain.TransactionRequest{ToDate: ptr(f.now.Add(-time.Hour))})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.UpdateTransaction(f.as(other), tx.ID, domain.TransactionRequest{Status: ptr(domain.TransactionCompleted)})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	updated, err := f.svc.UpdateTransaction(f.as(f.staff), tx.ID, domain.TransactionRequest{Status: ptr(domain.TransactionCompleted)})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, updated.Status)
	assert.True(t, updated.TotalPrice.Equal(tx.TotalPrice))

	assert.ErrorIs(t, f.svc.DeleteTransaction(f.as(other), tx.ID), ErrPermissionDenied)
	require.NoError(t, f.svc.DeleteTransaction(f.as(f.staff), tx.ID))
	_, err = f.svc.GetTransaction(f.as(f.staff), tx.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReconciledTransactionRejectsDirectEdits(t *testing.T) {
	f := newFixture(t)

	expense, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("5")})
	require.NoError(t, err)
	_, tx := f.linkOf(t, expense.ID)

	_, err = f.svc.UpdateTransaction(f.as(f.admin), tx.ID, domain.TransactionRequest{TotalPrice: amount("1")})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.ErrorIs(t, f.svc.DeleteTransaction(f.as(f.staff), tx.ID), store.ErrConflict)

	_, stored := f.linkOf(t, expense.ID)
	assert.True(t, stored.TotalPrice.Equal(decimal.NewFromInt(5)))
}
