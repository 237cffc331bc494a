package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensedesk/backend/internal/domain"
)

func assertOrderTotal(t *testing.T, f *fixture, orderID int64, want string) {
	t.Helper()
	order, err := f.repo.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.True(t, order.CalculatedPrice.Equal(decimal.RequireFromString(want)),
		"calculated_price = %s, want %s", order.CalculatedPrice, want)
}

func TestCreateOrderWithItemsComputesTotal(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2.50")
	cake := f.item(t, "Cake", "10")

	order, err := f.svc.CreateOrderWithItems(f.as(f.staff), domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: tea.ID, Count: 2, AddedDate: "2024-01-01T09:00:00Z"},
		{ItemID: cake.ID, Count: 3, AddedDate: "2024-01-01T09:30:00"},
	}})
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	assert.True(t, order.CalculatedPrice.Equal(decimal.NewFromInt(35)))
	assert.Equal(t, time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), order.Items[1].AddedDate)
}

func TestCreateOrderRejectsBadAddedDateBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2.50")

	for _, raw := range []string{"", "yesterday"} {
		_, err := f.svc.CreateOrderWithItems(f.as(f.staff), domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
			{ItemID: tea.ID, Count: 1, AddedDate: "2024-01-01T09:00:00Z"},
			{ItemID: tea.ID, Count: 1, AddedDate: raw},
		}})
		require.ErrorIs(t, err, ErrValidation)
	}

	orders, err := f.repo.ListOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrderWithUnknownItemWritesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrderWithItems(f.as(f.staff), domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: 9999, Count: 1, AddedDate: "2024-01-01"},
	}})
	require.Error(t, err)

	orders, err := f.repo.ListOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestReplaceOrderItemsSyncsLineSet(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2")
	cake := f.item(t, "Cake", "5")
	juice := f.item(t, "Juice", "3")
	ctx := f.as(f.staff)

	order, err := f.svc.CreateOrderWithItems(ctx, domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: tea.ID, Count: 1, AddedDate: "2023-12-31T08:00:00Z"},
		{ItemID: cake.ID, Count: 1, AddedDate: "2023-12-31T08:00:00Z"},
	}})
	require.NoError(t, err)
	teaLine, cakeLine := order.Items[0], order.Items[1]

	replaced, err := f.svc.ReplaceOrderItems(ctx, order.ID, domain.OrderReplaceRequest{OrderItems: []domain.OrderItemInput{
		{ID: &teaLine.ID, ItemID: tea.ID, Count: 4},
		{ItemID: juice.ID, Count: 2},
	}})
	require.NoError(t, err)
	require.Len(t, replaced.Items, 2)

	assert.Equal(t, teaLine.ID, replaced.Items[0].ID)
	assert.Equal(t, 4, replaced.Items[0].Count)
	assert.Equal(t, f.now, replaced.Items[0].AddedDate)
	assert.Equal(t, juice.ID, replaced.Items[1].ItemID)
	assert.Equal(t, f.now, replaced.Items[1].AddedDate)

	_, err = f.repo.GetOrderItem(context.Background(), cakeLine.ID)
	assert.Error(t, err, "omitted line must be deleted")
	assertOrderTotal(t, f, order.ID, "14")

	emptied, err := f.svc.ReplaceOrderItems(ctx, order.ID, domain.OrderReplaceRequest{})
	require.NoError(t, err)
	assert.Empty(t, emptied.Items)
	assertOrderTotal(t, f, order.ID, "0")
}

func TestReplaceOrderItemsKeepsCountWhenOmitted(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2")
	ctx := f.as(f.staff)

	order, err := f.svc.CreateOrderWithItems(ctx, domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: tea.ID, Count: 3, AddedDate: "2024-01-01T08:00:00Z"},
	}})
	require.NoError(t, err)

	replaced, err := f.svc.ReplaceOrderItems(ctx, order.ID, domain.OrderReplaceRequest{OrderItems: []domain.OrderItemInput{
		{ID: &order.Items[0].ID},
	}})
	require.NoError(t, err)
	require.Len(t, replaced.Items, 1)
	assert.Equal(t, 3, replaced.Items[0].Count)
}

func TestReplaceOrderItemsOfAnotherUserIsDenied(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2")
	other := f.addUser(t, "andi", nil)

	order, err := f.svc.CreateOrderWithItems(f.as(f.staff), domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: tea.ID, Count: 1, AddedDate: "2024-01-01T08:00:00Z"},
	}})
	require.NoError(t, err)

	_, err = f.svc.ReplaceOrderItems(f.as(other), order.ID, domain.OrderReplaceRequest{})
	require.ErrorIs(t, err, ErrPermissionDenied)
	assertOrderTotal(t, f, order.ID, "2")
}

func TestEditOrderItemOnlyOnDayAdded(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2")
	ctx := f.as(f.staff)

	order, err := f.svc.CreateOrderWithItems(ctx, domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: tea.ID, Count: 1, AddedDate: "2023-12-31T23:00:00Z"},
		{ItemID: tea.ID, Count: 1, AddedDate: "2024-01-01T00:30:00Z"},
	}})
	require.NoError(t, err)
	yesterday, today := order.Items[0], order.Items[1]

	_, err = f.svc.EditOrderItem(ctx, yesterday.ID, domain.OrderItemUpdateRequest{Count: ptr(5)})
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.ErrorIs(t, f.svc.DeleteOrderItem(ctx, yesterday.ID), ErrPermissionDenied)

	edited, err := f.svc.EditOrderItem(ctx, today.ID, domain.OrderItemUpdateRequest{Count: ptr(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, edited.Count)
	assertOrderTotal(t, f, order.ID, "12")

	require.NoError(t, f.svc.DeleteOrderItem(ctx, today.ID))
	assertOrderTotal(t, f, order.ID, "2")
}

func TestEditWindowFollowsServiceLocation(t *testing.T) {
	f := newFixture(t)
	jakarta := time.FixedZone("WIB", 7*60*60)
	f.svc = New(f.repo, Options{Location: jakarta, Now: func() time.Time { return f.now }})
	tea := f.item(t, "Tea", "2")
	ctx := f.as(f.staff)

	// 2023-12-31T20:00Z is already 2024-01-01 in UTC+7.
	order, err := f.svc.CreateOrderWithItems(ctx, domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: tea.ID, Count: 1, AddedDate: "2023-12-31T20:00:00Z"},
	}})
	require.NoError(t, err)

	_, err = f.svc.EditOrderItem(ctx, order.Items[0].ID, domain.OrderItemUpdateRequest{Count: ptr(2)})
	assert.NoError(t, err)
}

func TestAddOrderItemDefaultsToNowAndRecomputes(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2")
	ctx := f.as(f.staff)

	order, err := f.svc.CreateOrderWithItems(ctx, domain.OrderCreateRequest{})
	require.NoError(t, err)
	assertOrderTotal(t, f, order.ID, "0")

	line, err := f.svc.AddOrderItem(ctx, domain.OrderItemCreateRequest{OrderID: order.ID, ItemID: tea.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, line.Count)
	assert.Equal(t, f.now, line.AddedDate)
	assertOrderTotal(t, f, order.ID, "2")

	got, err := f.svc.GetOrderItem(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, line, got)

	_, err = f.svc.AddOrderItem(ctx, domain.OrderItemCreateRequest{OrderID: order.ID, ItemID: tea.ID, Count: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteOrderOnlyOnDayAdded(t *testing.T) {
	f := newFixture(t)
	ctx := f.as(f.staff)

	order, err := f.svc.CreateOrderWithItems(ctx, domain.OrderCreateRequest{})
	require.NoError(t, err)

	f.now = f.now.Add(24 * time.Hour)
	require.ErrorIs(t, f.svc.DeleteOrder(ctx, order.ID), ErrPermissionDenied)

	f.now = f.now.Add(-24 * time.Hour)
	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))
	_, err = f.svc.GetOrder(ctx, order.ID)
	assert.Error(t, err)
}

func TestOrderItemsByDateAndUser(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2")

	_, err := f.svc.CreateOrderWithItems(f.as(f.staff), domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: tea.ID, Count: 1, AddedDate: "2024-01-01T08:00:00Z"},
		{ItemID: tea.ID, Count: 2, AddedDate: "2024-01-02T08:00:00Z"},
	}})
	require.NoError(t, err)

	rows, err := f.svc.OrderItemsByDateAndUser(f.as(f.admin), "2024-01-02", "budi")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Count)
	assert.Equal(t, "Tea", rows[0].ItemName)

	_, err = f.svc.OrderItemsByDateAndUser(f.as(f.staff), "2024-01-02", "admin")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestDeleteOrdersByDateAndUser(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2")
	andi := f.addUser(t, "andi", nil)

	orderOn := func(actor domain.Actor, addedDate string) domain.Order {
		order, err := f.svc.CreateOrderWithItems(f.as(actor), domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
			{ItemID: tea.ID, Count: 1, AddedDate: addedDate},
			{ItemID: tea.ID, Count: 1, AddedDate: addedDate},
		}})
		require.NoError(t, err)
		return order
	}
	orderOn(f.staff, "2024-01-01T08:00:00Z")
	orderOn(f.staff, "2024-01-01T09:00:00Z")
	yesterday := orderOn(f.staff, "2023-12-31T09:00:00Z")
	orderOn(andi, "2024-01-01T08:00:00Z")

	_, err := f.svc.DeleteOrdersByDateAndUser(f.as(f.staff), "2023-12-31", "budi")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.svc.DeleteOrdersByDateAndUser(f.as(f.staff), "2024-01-01", "andi")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.svc.DeleteOrdersByDateAndUser(f.as(f.staff), "01/01/2024", "budi")
	assert.ErrorIs(t, err, ErrValidation)

	deleted, err := f.svc.DeleteOrdersByDateAndUser(f.as(f.staff), "2024-01-01", "budi")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := f.svc.ListOrders(f.as(f.staff))
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, yesterday.ID, remaining[0].ID)

	deleted, err = f.svc.DeleteOrdersByDateAndUser(f.as(f.admin), "2023-12-31", "budi")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	andiOrders, err := f.svc.ListOrders(f.as(andi))
	require.NoError(t, err)
	assert.Len(t, andiOrders, 1)
}
