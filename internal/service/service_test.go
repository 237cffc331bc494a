package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/events"
	"expensedesk/backend/internal/store"
	"expensedesk/backend/internal/store/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]string, 0, len(p.events))
	for _, event := range p.events {
		result = append(result, event.Type)
	}
	return result
}

type mapCache struct {
	mu         sync.Mutex
	entries    map[string][]byte
	generation int64
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.entries[key]
	return val, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *mapCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *mapCache) Advance(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.generation, nil
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[versionedKey(key, c.generation)]
	return ok
}

type fixture struct {
	svc       *Service
	repo      *memory.Store
	cache     *mapCache
	publisher *recordingPublisher
	now       time.Time
	admin     domain.Actor
	staff     domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:      memory.NewSeeded(),
		cache:     newMapCache(),
		publisher: &recordingPublisher{},
		now:       time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = New(f.repo, Options{
		Cache:     f.cache,
		Publisher: f.publisher,
		Now:       func() time.Time { return f.now },
	})

	ctx := context.Background()
	admin, err := f.repo.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	f.admin = admin.Actor()

	f.staff = f.addUser(t, "budi", nil)
	return f
}

func (f *fixture) addUser(t *testing.T, username string, roleID *int64) domain.Actor {
	t.Helper()
	user, err := f.repo.CreateUser(context.Background(), domain.User{Username: username, Password: "x", RoleID: roleID, Active: true})
	require.NoError(t, err)
	return user.Actor()
}

func (f *fixture) as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func (f *fixture) item(t *testing.T, name string, price string) domain.Item {
	t.Helper()
	item, err := f.svc.CreateItem(f.as(f.admin), domain.ItemRequest{ItemName: name, ItemPrice: decimal.RequireFromString(price)})
	require.NoError(t, err)
	return item
}

func amount(raw string) *decimal.Decimal {
	d := decimal.RequireFromString(raw)
	return &d
}

func ptr[T any](v T) *T {
	return &v
}

func (f *fixture) linkOf(t *testing.T, expenseID int64) (domain.TransactionOrder, domain.Transaction) {
	t.Helper()
	ctx := context.Background()
	link, err := f.repo.GetTransactionOrderByExpense(ctx, expenseID)
	require.NoError(t, err)
	tx, err := f.repo.GetTransaction(ctx, link.TransactionID)
	require.NoError(t, err)
	return *link, *tx
}

func TestCreateExpenseReconcilesAndNotifiesEveryAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roles, err := f.repo.ListRoles(ctx)
	require.NoError(t, err)
	secondAdmin := f.addUser(t, "siti", &roles[0].ID)

	expense, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{
		Date:        "2024-01-01",
		Description: "printer ink",
		Amount:      amount("100"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ExpenseTypeProduct, expense.ExpenseType)
	assert.Equal(t, "2024-01-01", expense.Date.String())

	link, tx := f.linkOf(t, expense.ID)
	assert.Equal(t, domain.TransactionPending, tx.Status)
	assert.True(t, tx.TotalPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, f.now, tx.FromDate)
	assert.Equal(t, tx.FromDate, tx.ToDate)

	order, err := f.repo.GetOrder(ctx, link.OrderID)
	require.NoError(t, err)
	assert.True(t, order.CalculatedPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, f.staff.UserID, order.CreatedUser)
	assert.Empty(t, order.Items)

	for _, admin := range []domain.Actor{f.admin, secondAdmin} {
		notes, err := f.svc.ListNotifications(f.as(admin))
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Contains(t, notes[0].Message, "budi")
		assert.Contains(t, notes[0].Message, "100.00")
		assert.Contains(t, notes[0].Message, "2024-01-01")
		assert.Equal(t, f.staff.UserID, notes[0].SenderID)
	}
	assert.Equal(t, []string{events.ExpenseSubmitted}, f.publisher.types())
}

func TestCreateExpenseWithBillStoresBillReference(t *testing.T) {
	f := newFixture(t)

	expense, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{
		Date:   "2024-01-01",
		Amount: amount("12.50"),
		Bill:   ptr("bills/2024/receipt.pdf"),
	})
	require.NoError(t, err)
	require.NotNil(t, expense.Bill)
	assert.Equal(t, "bills/2024/receipt.pdf", *expense.Bill)
}

func TestCreateExpenseValidatesBeforeWriting(t *testing.T) {
	f := newFixture(t)
	ctx := f.as(f.staff)

	_, err := f.svc.CreateExpense(ctx, domain.ExpenseCreateRequest{Date: "01-01-2024", Amount: amount("1")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateExpense(ctx, domain.ExpenseCreateRequest{Date: "2024-01-01"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateExpense(ctx, domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("-1")})
	assert.ErrorIs(t, err, ErrValidation)

	expenses, err := f.repo.ListExpenses(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, expenses)
}

func TestCreateExpenseRollsBackWhenAnyStepFails(t *testing.T) {
	f := newFixture(t)
	ghost := domain.Actor{UserID: 999, Username: "ghost"}

	_, err := f.svc.CreateExpense(f.as(ghost), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("5")})
	require.ErrorIs(t, err, store.ErrNotFound)

	expenses, err := f.repo.ListExpenses(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, expenses)
	assert.Empty(t, f.publisher.types())
}

func TestUpdateExpenseSyncsTransactionTotalAndStatus(t *testing.T) {
	f := newFixture(t)

	expense, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("100")})
	require.NoError(t, err)

	updated, err := f.svc.UpdateExpense(f.as(f.admin), expense.ID, domain.ExpenseUpdateRequest{
		Amount:     amount("80"),
		IsRefunded: ptr(true),
	})
	require.NoError(t, err)
	assert.True(t, updated.IsRefunded)

	_, tx := f.linkOf(t, expense.ID)
	assert.True(t, tx.TotalPrice.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, domain.TransactionCompleted, tx.Status)

	_, err = f.svc.UpdateExpense(f.as(f.admin), expense.ID, domain.ExpenseUpdateRequest{IsRefunded: ptr(false)})
	require.NoError(t, err)
	_, tx = f.linkOf(t, expense.ID)
	assert.Equal(t, domain.TransactionPending, tx.Status)
}

func TestUpdateExpenseOwnerChangesAmount(t *testing.T) {
	f := newFixture(t)
	ctx := f.as(f.staff)

	expense, err := f.svc.CreateExpense(ctx, domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("10")})
	require.NoError(t, err)

	_, err = f.svc.UpdateExpense(ctx, expense.ID, domain.ExpenseUpdateRequest{Amount: amount("15.25"), Description: ptr("taxi")})
	require.NoError(t, err)

	link, tx := f.linkOf(t, expense.ID)
	assert.True(t, tx.TotalPrice.Equal(decimal.RequireFromString("15.25")))
	order, err := f.repo.GetOrder(context.Background(), link.OrderID)
	require.NoError(t, err)
	assert.True(t, order.CalculatedPrice.Equal(decimal.RequireFromString("15.25")))
}

func TestUpdateExpenseReviewFieldsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := f.as(f.staff)

	expense, err := f.svc.CreateExpense(ctx, domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("10"), Description: "lunch"})
	require.NoError(t, err)

	_, err = f.svc.UpdateExpense(ctx, expense.ID, domain.ExpenseUpdateRequest{
		Description: ptr("changed"),
		Amount:      amount("99"),
		IsVerified:  ptr(true),
	})
	require.ErrorIs(t, err, ErrPermissionDenied)

	stored, err := f.repo.GetExpense(context.Background(), expense.ID)
	require.NoError(t, err)
	assert.Equal(t, "lunch", stored.Description)
	assert.True(t, stored.Amount.Equal(decimal.NewFromInt(10)))
	assert.False(t, stored.IsVerified)

	_, tx := f.linkOf(t, expense.ID)
	assert.True(t, tx.TotalPrice.Equal(decimal.NewFromInt(10)))
}

func TestUpdateExpenseByAnotherUserIsDenied(t *testing.T) {
	f := newFixture(t)
	other := f.addUser(t, "andi", nil)

	expense, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("10")})
	require.NoError(t, err)

	_, err = f.svc.UpdateExpense(f.as(other), expense.ID, domain.ExpenseUpdateRequest{Amount: amount("1")})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.svc.UpdateExpense(f.as(other), 424242, domain.ExpenseUpdateRequest{Amount: amount("1")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVerifyingExpenseNotifiesOwnerOnce(t *testing.T) {
	f := newFixture(t)

	expense, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("10")})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.svc.UpdateExpense(f.as(f.admin), expense.ID, domain.ExpenseUpdateRequest{IsVerified: ptr(true)})
		require.NoError(t, err)
	}

	notes, err := f.svc.ListNotifications(f.as(f.staff))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, f.admin.UserID, notes[0].SenderID)
	assert.False(t, notes[0].IsRead)
	assert.Equal(t, []string{events.ExpenseSubmitted, events.ExpenseVerified}, f.publisher.types())

	require.NoError(t, f.svc.MarkNotificationRead(f.as(f.staff), notes[0].ID))
	notes, err = f.svc.ListNotifications(f.as(f.staff))
	require.NoError(t, err)
	assert.True(t, notes[0].IsRead)
}

func TestUpdateExpenseBindsActingUsersLatestOrder(t *testing.T) {
	f := newFixture(t)

	expense, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("10")})
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	adminOrder, err := f.svc.CreateOrderWithItems(f.as(f.admin), domain.OrderCreateRequest{})
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	_, err = f.svc.UpdateExpense(f.as(f.admin), expense.ID, domain.ExpenseUpdateRequest{Amount: amount("12")})
	require.NoError(t, err)

	link, _ := f.linkOf(t, expense.ID)
	assert.Equal(t, adminOrder.ID, link.OrderID)

	order, err := f.repo.GetOrder(context.Background(), adminOrder.ID)
	require.NoError(t, err)
	assert.True(t, order.CalculatedPrice.Equal(decimal.NewFromInt(12)))
}

func TestUpdateExpenseWithoutLinkCreatesTransactionAndLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.repo.CreateExpense(ctx, domain.Expense{
		UserID:      f.staff.UserID,
		Date:        domain.NewDate(f.now),
		ExpenseType: domain.ExpenseTypeService,
		Amount:      decimal.NewFromInt(40),
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateExpense(f.as(f.staff), raw.ID, domain.ExpenseUpdateRequest{Description: ptr("imported")})
	require.NoError(t, err)

	link, tx := f.linkOf(t, raw.ID)
	assert.True(t, tx.TotalPrice.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, f.staff.UserID, tx.UserID)

	order, err := f.repo.GetOrder(ctx, link.OrderID)
	require.NoError(t, err)
	assert.Equal(t, f.staff.UserID, order.CreatedUser)
	assert.True(t, order.CalculatedPrice.Equal(decimal.NewFromInt(40)))
}

func TestExpenseListingIsScopedToOwnerUnlessAdmin(t *testing.T) {
	f := newFixture(t)
	other := f.addUser(t, "andi", nil)

	mine, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("1")})
	require.NoError(t, err)
	_, err = f.svc.CreateExpense(f.as(other), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("2")})
	require.NoError(t, err)

	own, err := f.svc.ListExpenses(f.as(f.staff))
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)

	all, err := f.svc.ListExpenses(f.as(f.admin))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.GetExpense(f.as(other), mine.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	require.NoError(t, f.svc.DeleteExpense(f.as(f.staff), mine.ID))
	_, err = f.svc.GetExpense(f.as(f.staff), mine.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreFaultsSurfaceAsStoreFailureWithCause(t *testing.T) {
	f := newFixture(t)
	cause := errors.New("connection reset")
	svc := New(failingRepo{Repository: f.repo, err: cause}, Options{Now: func() time.Time { return f.now }})

	_, err := svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("1")})
	require.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, cause)
}

type failingRepo struct {
	store.Repository
	err error
}

func (r failingRepo) Atomic(_ context.Context, _ func(repo store.Repository) error) error {
	return r.err
}

func TestMissingActorIsUnauthenticated(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateExpense(context.Background(), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("1")})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGetNotificationOnlyForReceiver(t *testing.T) {
	f := newFixture(t)

	expense, err := f.svc.CreateExpense(f.as(f.staff), domain.ExpenseCreateRequest{Date: "2024-01-01", Amount: amount("10")})
	require.NoError(t, err)
	_, err = f.svc.UpdateExpense(f.as(f.admin), expense.ID, domain.ExpenseUpdateRequest{IsVerified: ptr(true)})
	require.NoError(t, err)

	notes, err := f.svc.ListNotifications(f.as(f.staff))
	require.NoError(t, err)
	require.Len(t, notes, 1)

	got, err := f.svc.GetNotification(f.as(f.staff), notes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, notes[0], got)

	_, err = f.svc.GetNotification(f.as(f.admin), notes[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
