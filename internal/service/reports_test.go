package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/store"
)

func TestDailyCombinedTotalsMergesOrdersAndExpenses(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "25")

	_, err := f.svc.CreateOrderWithItems(f.as(f.staff), domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: tea.ID, Count: 2, AddedDate: "2024-01-01T09:00:00Z"},
	}})
	require.NoError(t, err)
	_, err = f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("30")})
	require.NoError(t, err)

	totals, err := f.svc.DailyCombinedTotals(f.as(f.staff))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, domain.DailyTotal{Date: "2024-01-01", OrderTotal: 50, ExpenseTotal: 30, CombinedTotal: 80}, totals[0])
}

func TestGlobalReportsAreCachedUntilNextWrite(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "10")
	ctx := f.as(f.staff)

	first, err := f.svc.DailyCombinedTotals(ctx)
	require.NoError(t, err)
	assert.Empty(t, first)
	assert.True(t, f.cache.has(cacheKeyDailyTotals))

	_, err = f.svc.CreateOrderWithItems(ctx, domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
		{ItemID: tea.ID, Count: 1, AddedDate: "2024-01-01T09:00:00Z"},
	}})
	require.NoError(t, err)
	assert.False(t, f.cache.has(cacheKeyDailyTotals))

	second, err := f.svc.DailyCombinedTotals(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 10.0, second[0].OrderTotal)

	summary, err := f.svc.DailyUserSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "budi", summary[0].User)

	cachedSummary, err := f.svc.DailyUserSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, summary, cachedSummary)
}

// pausingRepo holds the first expense-link read open until release is closed,
// so a write can commit while a report is still being computed.
type pausingRepo struct {
	store.Repository
	fetched chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *pausingRepo) ListExpenseLinkRows(ctx context.Context) ([]domain.ExpenseLinkRow, error) {
	rows, err := r.Repository.ListExpenseLinkRows(ctx)
	r.once.Do(func() {
		close(r.fetched)
		<-r.release
	})
	return rows, err
}

func TestReportComputedBeforeCommitIsNotServedAfterIt(t *testing.T) {
	f := newFixture(t)
	repo := &pausingRepo{Repository: f.repo, fetched: make(chan struct{}), release: make(chan struct{})}
	svc := New(repo, Options{Cache: f.cache, Now: func() time.Time { return f.now }})
	ctx := f.as(f.staff)

	done := make(chan error, 1)
	go func() {
		_, err := svc.DailyCombinedTotals(ctx)
		done <- err
	}()

	<-repo.fetched
	_, err := svc.CreateExpense(ctx, domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("30")})
	require.NoError(t, err)
	close(repo.release)
	require.NoError(t, <-done)

	totals, err := svc.DailyCombinedTotals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, 30.0, totals[0].ExpenseTotal)
}

func TestGroupedItemsScopesToCallerUnlessAdmin(t *testing.T) {
	f := newFixture(t)
	tea := f.item(t, "Tea", "2")
	other := f.addUser(t, "andi", nil)

	for i, actor := range []domain.Actor{f.staff, other, f.staff} {
		_, err := f.svc.CreateOrderWithItems(f.as(actor), domain.OrderCreateRequest{OrderItems: []domain.OrderItemInput{
			{ItemID: tea.ID, Count: 1, AddedDate: []string{"2024-01-01T08:00:00Z", "2024-01-02T08:00:00Z", "2024-01-03T08:00:00Z"}[i]},
		}})
		require.NoError(t, err)
	}

	own, err := f.svc.GroupedItems(f.as(f.staff), domain.GroupedItemsFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Len(t, own.Results, 2)
	assert.NotContains(t, own.Results, "2024-01-02")

	all, err := f.svc.GroupedItems(f.as(f.admin), domain.GroupedItemsFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Len(t, all.Results, 3)
	assert.Equal(t, 1, all.TotalPages)
	assert.Equal(t, 1, all.CurrentPage)
	assert.Equal(t, 6.0, all.TotalPrice)

	beyond, err := f.svc.GroupedItems(f.as(f.admin), domain.GroupedItemsFilter{}, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond.Results)

	filtered, err := f.svc.GroupedItems(f.as(f.admin), domain.GroupedItemsFilter{StartDate: "2024-01-02"}, 1, 10)
	require.NoError(t, err)
	assert.Len(t, filtered.Results, 2)

	_, err = f.svc.GroupedItems(f.as(f.admin), domain.GroupedItemsFilter{Month: "January"}, 1, 10)
	assert.ErrorIs(t, err, ErrValidation)

	dates, err := f.svc.AvailableDates(f.as(other))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02"}, dates)
}

func TestReportsRequireAuthentication(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.DailyCombinedTotals(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
