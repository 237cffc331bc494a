package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/store"
)

type state struct {
	nextID            int64
	roles             map[int64]domain.Role
	users             map[int64]domain.User
	categories        map[int64]domain.Category
	items             map[int64]domain.Item
	priceHistory      []domain.ItemPriceHistory
	expenses          map[int64]domain.Expense
	bills             map[int64]domain.Bill
	orders            map[int64]domain.Order
	orderItems        map[int64]domain.OrderItem
	transactions      map[int64]domain.Transaction
	transactionOrders map[int64]domain.TransactionOrder
	notifications     map[int64]domain.Notification
}

func newState() *state {
	return &state{
		roles:             make(map[int64]domain.Role),
		users:             make(map[int64]domain.User),
		categories:        make(map[int64]domain.Category),
		items:             make(map[int64]domain.Item),
		expenses:          make(map[int64]domain.Expense),
		bills:             make(map[int64]domain.Bill),
		orders:            make(map[int64]domain.Order),
		orderItems:        make(map[int64]domain.OrderItem),
		transactions:      make(map[int64]domain.Transaction),
		transactionOrders: make(map[int64]domain.TransactionOrder),
		notifications:     make(map[int64]domain.Notification),
	}
}

func (st *state) clone() *state {
	return &state{
		nextID:            st.nextID,
		roles:             maps.Clone(st.roles),
		users:             maps.Clone(st.users),
		categories:        maps.Clone(st.categories),
		items:             maps.Clone(st.items),
		priceHistory:      slices.Clone(st.priceHistory),
		expenses:          maps.Clone(st.expenses),
		bills:             maps.Clone(st.bills),
		orders:            maps.Clone(st.orders),
		orderItems:        maps.Clone(st.orderItems),
		transactions:      maps.Clone(st.transactions),
		transactionOrders: maps.Clone(st.transactionOrders),
		notifications:     maps.Clone(st.notifications),
	}
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

// Store keeps every table in process memory. Atomic scopes run against a
// private copy of the state that replaces the shared state only on success,
// so readers never observe a partially applied scope.
type Store struct {
	mu      sync.RWMutex
	writeMu *sync.Mutex
	st      *state
	inTx    bool
}

func New() *Store {
	return &Store{writeMu: &sync.Mutex{}, st: newState()}
}

// NewSeeded returns a store with an admin role and user for dev/demo mode.
// The admin password comes from SEED_ADMIN_PASSWORD (default "admin123").
func NewSeeded() *Store {
	s := New()
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
		slog.Warn("memory store using default admin credentials; set SEED_ADMIN_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash seed password", "error", err)
		os.Exit(1)
	}

	if err := seed(s, string(hash)); err != nil {
		slog.Error("failed to seed memory store", "error", err)
		os.Exit(1)
	}
	return s
}

func seed(s *Store, passwordHash string) error {
	ctx := context.Background()
	admin, err := s.CreateRole(ctx, domain.Role{RoleName: "Admin"})
	if err != nil {
		return fmt.Errorf("admin role: %w", err)
	}
	if _, err := s.CreateRole(ctx, domain.Role{RoleName: "Staff"}); err != nil {
		return fmt.Errorf("staff role: %w", err)
	}
	if _, err := s.CreateUser(ctx, domain.User{
		Username: "admin",
		Email:    "admin@example.com",
		Password: passwordHash,
		RoleID:   &admin.ID,
		Active:   true,
	}); err != nil {
		return fmt.Errorf("admin user: %w", err)
	}
	return nil
}

func (s *Store) Atomic(ctx context.Context, fn func(repo store.Repository) error) error {
	if s.inTx {
		return fn(s)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	scope := &Store{writeMu: s.writeMu, st: s.st.clone(), inTx: true}
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(scope); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = scope.st
	s.mu.Unlock()
	return nil
}

// lockWrite serializes writes made outside Atomic with running scopes, so a
// scope swap cannot drop them.
func (s *Store) lockWrite() func() {
	if !s.inTx {
		s.writeMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if !s.inTx {
			s.writeMu.Unlock()
		}
	}
}

func (s *Store) CreateRole(_ context.Context, role domain.Role) (*domain.Role, error) {
	defer s.lockWrite()()

	for _, existing := range s.st.roles {
		if strings.EqualFold(existing.RoleName, role.RoleName) {
			return nil, fmt.Errorf("role %q exists: %w", role.RoleName, store.ErrConflict)
		}
	}
	role.ID = s.st.id()
	s.st.roles[role.ID] = role
	return &role, nil
}

func (s *Store) GetRole(_ context.Context, id int64) (*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.st.roles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &role, nil
}

func (s *Store) ListRoles(_ context.Context) ([]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedValues(s.st.roles, func(r domain.Role) int64 { return r.ID }), nil
}

func (s *Store) UpdateRole(_ context.Context, role domain.Role) (*domain.Role, error) {
	defer s.lockWrite()()

	if _, ok := s.st.roles[role.ID]; !ok {
		return nil, store.ErrNotFound
	}
	for id, existing := range s.st.roles {
		if id != role.ID && strings.EqualFold(existing.RoleName, role.RoleName) {
			return nil, fmt.Errorf("role %q exists: %w", role.RoleName, store.ErrConflict)
		}
	}
	s.st.roles[role.ID] = role
	return &role, nil
}

func (s *Store) DeleteRole(_ context.Context, id int64) error {
	defer s.lockWrite()()

	if _, ok := s.st.roles[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.roles, id)
	for userID, user := range s.st.users {
		if user.RoleID != nil && *user.RoleID == id {
			user.RoleID = nil
			s.st.users[userID] = user
		}
	}
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	defer s.lockWrite()()

	for _, existing := range s.st.users {
		if strings.EqualFold(existing.Username, user.Username) {
			return nil, fmt.Errorf("username %q exists: %w", user.Username, store.ErrConflict)
		}
	}
	if user.RoleID != nil {
		if _, ok := s.st.roles[*user.RoleID]; !ok {
			return nil, fmt.Errorf("role %d: %w", *user.RoleID, store.ErrNotFound)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.ID = s.st.id()
	s.st.users[user.ID] = user
	return s.withRole(user), nil
}

func (s *Store) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.withRole(user), nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.st.users {
		if strings.EqualFold(user.Username, username) {
			return s.withRole(user), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListAdmins(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	admins := make([]domain.User, 0, 4)
	for _, user := range sortedValues(s.st.users, func(u domain.User) int64 { return u.ID }) {
		if withRole := s.withRole(user); withRole.IsAdmin() {
			admins = append(admins, *withRole)
		}
	}
	return admins, nil
}

// withRole must be called with s.mu held.
func (s *Store) withRole(user domain.User) *domain.User {
	user.RoleName = ""
	if user.RoleID != nil {
		if role, ok := s.st.roles[*user.RoleID]; ok {
			user.RoleName = role.RoleName
		}
	}
	return &user
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	defer s.lockWrite()()

	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	category.ID = s.st.id()
	s.st.categories[category.ID] = category
	return &category, nil
}

func (s *Store) GetCategory(_ context.Context, id int64) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.st.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &category, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedValues(s.st.categories, func(c domain.Category) int64 { return c.ID }), nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	defer s.lockWrite()()

	if _, ok := s.st.categories[category.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.st.categories[category.ID] = category
	return &category, nil
}

func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	defer s.lockWrite()()

	if _, ok := s.st.categories[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.categories, id)
	for itemID, item := range s.st.items {
		if item.CategoryID != nil && *item.CategoryID == id {
			item.CategoryID = nil
			s.st.items[itemID] = item
		}
	}
	return nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	defer s.lockWrite()()

	if item.CategoryID != nil {
		if _, ok := s.st.categories[*item.CategoryID]; !ok {
			return nil, fmt.Errorf("category %d: %w", *item.CategoryID, store.ErrNotFound)
		}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.ID = s.st.id()
	s.st.items[item.ID] = item
	return &item, nil
}

func (s *Store) GetItem(_ context.Context, id int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.st.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []int64) (map[int64]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Item, len(ids))
	for _, id := range ids {
		if item, ok := s.st.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedValues(s.st.items, func(i domain.Item) int64 { return i.ID }), nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	defer s.lockWrite()()

	if _, ok := s.st.items[item.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if item.CategoryID != nil {
		if _, ok := s.st.categories[*item.CategoryID]; !ok {
			return nil, fmt.Errorf("category %d: %w", *item.CategoryID, store.ErrNotFound)
		}
	}
	s.st.items[item.ID] = item
	return &item, nil
}

func (s *Store) DeleteItem(_ context.Context, id int64) error {
	defer s.lockWrite()()

	if _, ok := s.st.items[id]; !ok {
		return store.ErrNotFound
	}
	for _, line := range s.st.orderItems {
		if line.ItemID == id {
			return fmt.Errorf("item %d is referenced by order lines: %w", id, store.ErrConflict)
		}
	}
	delete(s.st.items, id)
	s.st.priceHistory = slices.DeleteFunc(s.st.priceHistory, func(h domain.ItemPriceHistory) bool {
		return h.ItemID == id
	})
	return nil
}

func (s *Store) CreatePriceHistory(_ context.Context, entry domain.ItemPriceHistory) error {
	defer s.lockWrite()()

	if _, ok := s.st.items[entry.ItemID]; !ok {
		return store.ErrNotFound
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}
	entry.ID = s.st.id()
	s.st.priceHistory = append(s.st.priceHistory, entry)
	return nil
}

func (s *Store) ListPriceHistory(_ context.Context, itemID int64) ([]domain.ItemPriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]domain.ItemPriceHistory, 0, 8)
	for _, entry := range s.st.priceHistory {
		if entry.ItemID == itemID {
			history = append(history, entry)
		}
	}
	slices.SortStableFunc(history, func(a, b domain.ItemPriceHistory) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return history, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	defer s.lockWrite()()

	if _, ok := s.st.users[expense.UserID]; !ok {
		return nil, fmt.Errorf("user %d: %w", expense.UserID, store.ErrNotFound)
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	expense.ID = s.st.id()
	s.st.expenses[expense.ID] = expense
	return &expense, nil
}

func (s *Store) GetExpense(_ context.Context, id int64) (*domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expense, ok := s.st.expenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &expense, nil
}

func (s *Store) ListExpenses(_ context.Context, userID *int64) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := sortedValues(s.st.expenses, func(e domain.Expense) int64 { return e.ID })
	if userID == nil {
		return all, nil
	}
	return slices.DeleteFunc(all, func(e domain.Expense) bool { return e.UserID != *userID }), nil
}

func (s *Store) UpdateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	defer s.lockWrite()()

	if _, ok := s.st.expenses[expense.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.st.expenses[expense.ID] = expense
	return &expense, nil
}

func (s *Store) DeleteExpense(_ context.Context, id int64) error {
	defer s.lockWrite()()

	if _, ok := s.st.expenses[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.expenses, id)
	for billID, bill := range s.st.bills {
		if bill.ExpenseID == id {
			delete(s.st.bills, billID)
		}
	}
	for linkID, link := range s.st.transactionOrders {
		if link.ExpenseID != nil && *link.ExpenseID == id {
			link.ExpenseID = nil
			s.st.transactionOrders[linkID] = link
		}
	}
	return nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	defer s.lockWrite()()

	if _, ok := s.st.expenses[bill.ExpenseID]; !ok {
		return nil, fmt.Errorf("expense %d: %w", bill.ExpenseID, store.ErrNotFound)
	}
	if bill.UploadedAt.IsZero() {
		bill.UploadedAt = time.Now().UTC()
	}
	bill.ID = s.st.id()
	s.st.bills[bill.ID] = bill
	return &bill, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	defer s.lockWrite()()

	if _, ok := s.st.users[order.CreatedUser]; !ok {
		return nil, fmt.Errorf("user %d: %w", order.CreatedUser, store.ErrNotFound)
	}
	if order.CreatedDate.IsZero() {
		order.CreatedDate = time.Now().UTC()
	}
	if order.AddedDate.IsZero() {
		order.AddedDate = domain.NewDate(order.CreatedDate)
	}
	order.ID = s.st.id()
	order.Items = nil
	s.st.orders[order.ID] = order
	return &order, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Items = s.linesOf(id)
	return &order, nil
}

func (s *Store) LatestOrderByUser(_ context.Context, userID int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Order
	for _, order := range s.st.orders {
		if order.CreatedUser != userID {
			continue
		}
		if latest == nil || order.CreatedDate.After(latest.CreatedDate) ||
			(order.CreatedDate.Equal(latest.CreatedDate) && order.ID > latest.ID) {
			candidate := order
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) ListOrders(_ context.Context, userID *int64) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := sortedValues(s.st.orders, func(o domain.Order) int64 { return o.ID })
	if userID != nil {
		orders = slices.DeleteFunc(orders, func(o domain.Order) bool { return o.CreatedUser != *userID })
	}
	for i := range orders {
		orders[i].Items = s.linesOf(orders[i].ID)
	}
	return orders, nil
}

func (s *Store) UpdateOrderPrice(_ context.Context, id int64, price decimal.Decimal) error {
	defer s.lockWrite()()

	order, ok := s.st.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	order.CalculatedPrice = price
	s.st.orders[id] = order
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, id int64) error {
	defer s.lockWrite()()

	if _, ok := s.st.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.orders, id)
	for lineID, line := range s.st.orderItems {
		if line.OrderID == id {
			delete(s.st.orderItems, lineID)
		}
	}
	for linkID, link := range s.st.transactionOrders {
		if link.OrderID == id {
			delete(s.st.transactionOrders, linkID)
		}
	}
	return nil
}

// linesOf must be called with s.mu held.
func (s *Store) linesOf(orderID int64) []domain.OrderItem {
	lines := make([]domain.OrderItem, 0, 4)
	for _, line := range sortedValues(s.st.orderItems, func(l domain.OrderItem) int64 { return l.ID }) {
		if line.OrderID == orderID {
			lines = append(lines, line)
		}
	}
	return lines
}

func (s *Store) CreateOrderItem(_ context.Context, line domain.OrderItem) (*domain.OrderItem, error) {
	defer s.lockWrite()()

	if _, ok := s.st.orders[line.OrderID]; !ok {
		return nil, fmt.Errorf("order %d: %w", line.OrderID, store.ErrNotFound)
	}
	if _, ok := s.st.items[line.ItemID]; !ok {
		return nil, fmt.Errorf("item %d: %w", line.ItemID, store.ErrNotFound)
	}
	if line.AddedDate.IsZero() {
		line.AddedDate = time.Now().UTC()
	}
	line.ID = s.st.id()
	s.st.orderItems[line.ID] = line
	return &line, nil
}

func (s *Store) GetOrderItem(_ context.Context, id int64) (*domain.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.st.orderItems[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &line, nil
}

func (s *Store) ListOrderItems(_ context.Context, orderID int64) ([]domain.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.linesOf(orderID), nil
}

func (s *Store) UpdateOrderItem(_ context.Context, line domain.OrderItem) (*domain.OrderItem, error) {
	defer s.lockWrite()()

	if _, ok := s.st.orderItems[line.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.st.items[line.ItemID]; !ok {
		return nil, fmt.Errorf("item %d: %w", line.ItemID, store.ErrNotFound)
	}
	s.st.orderItems[line.ID] = line
	return &line, nil
}

func (s *Store) DeleteOrderItem(_ context.Context, id int64) error {
	defer s.lockWrite()()

	if _, ok := s.st.orderItems[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.orderItems, id)
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	defer s.lockWrite()()

	if _, ok := s.st.users[tx.UserID]; !ok {
		return nil, fmt.Errorf("user %d: %w", tx.UserID, store.ErrNotFound)
	}
	tx.ID = s.st.id()
	s.st.transactions[tx.ID] = tx
	return &tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.st.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) ListTransactions(_ context.Context, userID int64) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := sortedValues(s.st.transactions, func(t domain.Transaction) int64 { return t.ID })
	return slices.DeleteFunc(all, func(t domain.Transaction) bool { return t.UserID != userID }), nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	defer s.lockWrite()()

	if _, ok := s.st.transactions[tx.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.st.transactions[tx.ID] = tx
	return &tx, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id int64) error {
	defer s.lockWrite()()

	if _, ok := s.st.transactions[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.transactions, id)
	for linkID, link := range s.st.transactionOrders {
		if link.TransactionID == id {
			delete(s.st.transactionOrders, linkID)
		}
	}
	return nil
}

func (s *Store) TransactionHasExpense(_ context.Context, transactionID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, link := range s.st.transactionOrders {
		if link.TransactionID == transactionID && link.ExpenseID != nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateTransactionOrder(_ context.Context, link domain.TransactionOrder) (*domain.TransactionOrder, error) {
	defer s.lockWrite()()

	if _, ok := s.st.transactions[link.TransactionID]; !ok {
		return nil, fmt.Errorf("transaction %d: %w", link.TransactionID, store.ErrNotFound)
	}
	if _, ok := s.st.orders[link.OrderID]; !ok {
		return nil, fmt.Errorf("order %d: %w", link.OrderID, store.ErrNotFound)
	}
	if link.ExpenseID != nil {
		if _, ok := s.st.expenses[*link.ExpenseID]; !ok {
			return nil, fmt.Errorf("expense %d: %w", *link.ExpenseID, store.ErrNotFound)
		}
		for _, existing := range s.st.transactionOrders {
			if existing.ExpenseID != nil && *existing.ExpenseID == *link.ExpenseID {
				return nil, fmt.Errorf("expense %d already linked: %w", *link.ExpenseID, store.ErrConflict)
			}
		}
	}
	if link.CreatedDate.IsZero() {
		link.CreatedDate = time.Now().UTC()
	}
	link.ID = s.st.id()
	s.st.transactionOrders[link.ID] = link
	return &link, nil
}

func (s *Store) GetTransactionOrderByExpense(_ context.Context, expenseID int64) (*domain.TransactionOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, link := range s.st.transactionOrders {
		if link.ExpenseID != nil && *link.ExpenseID == expenseID {
			return &link, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateTransactionOrder(_ context.Context, link domain.TransactionOrder) (*domain.TransactionOrder, error) {
	defer s.lockWrite()()

	if _, ok := s.st.transactionOrders[link.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.st.orders[link.OrderID]; !ok {
		return nil, fmt.Errorf("order %d: %w", link.OrderID, store.ErrNotFound)
	}
	s.st.transactionOrders[link.ID] = link
	return &link, nil
}

func (s *Store) CreateNotification(_ context.Context, n domain.Notification) (*domain.Notification, error) {
	defer s.lockWrite()()

	if _, ok := s.st.users[n.ReceiverID]; !ok {
		return nil, fmt.Errorf("receiver %d: %w", n.ReceiverID, store.ErrNotFound)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.ID = s.st.id()
	s.st.notifications[n.ID] = n
	return &n, nil
}

func (s *Store) ListNotifications(_ context.Context, receiverID int64) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := sortedValues(s.st.notifications, func(n domain.Notification) int64 { return -n.ID })
	return slices.DeleteFunc(all, func(n domain.Notification) bool { return n.ReceiverID != receiverID }), nil
}

func (s *Store) GetNotification(_ context.Context, id int64, receiverID int64) (*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.st.notifications[id]
	if !ok || n.ReceiverID != receiverID {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id int64, receiverID int64) error {
	defer s.lockWrite()()

	n, ok := s.st.notifications[id]
	if !ok || n.ReceiverID != receiverID {
		return store.ErrNotFound
	}
	n.IsRead = true
	s.st.notifications[id] = n
	return nil
}

func (s *Store) ListOrderItemRows(_ context.Context, userID *int64) ([]domain.OrderItemRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.OrderItemRow, 0, len(s.st.orderItems))
	for _, line := range sortedValues(s.st.orderItems, func(l domain.OrderItem) int64 { return l.ID }) {
		order, ok := s.st.orders[line.OrderID]
		if !ok {
			continue
		}
		if userID != nil && order.CreatedUser != *userID {
			continue
		}
		item := s.st.items[line.ItemID]
		rows = append(rows, domain.OrderItemRow{
			OrderItemID: line.ID,
			OrderID:     order.ID,
			OrderPrice:  order.CalculatedPrice,
			UserID:      order.CreatedUser,
			Username:    s.st.users[order.CreatedUser].Username,
			ItemID:      line.ItemID,
			ItemName:    item.ItemName,
			ItemPrice:   item.ItemPrice,
			Count:       line.Count,
			AddedDate:   line.AddedDate,
		})
	}
	return rows, nil
}

func (s *Store) ListExpenseLinkRows(_ context.Context) ([]domain.ExpenseLinkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.ExpenseLinkRow, 0, len(s.st.transactionOrders))
	for _, link := range sortedValues(s.st.transactionOrders, func(l domain.TransactionOrder) int64 { return l.ID }) {
		if link.ExpenseID == nil {
			continue
		}
		expense, ok := s.st.expenses[*link.ExpenseID]
		if !ok {
			continue
		}
		rows = append(rows, domain.ExpenseLinkRow{
			TransactionOrderID: link.ID,
			ExpenseID:          expense.ID,
			Amount:             expense.Amount,
			CreatedDate:        link.CreatedDate,
		})
	}
	return rows, nil
}

func sortedValues[T any](m map[int64]T, key func(T) int64) []T {
	values := make([]T, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	slices.SortFunc(values, func(a, b T) int {
		ka, kb := key(a), key(b)
		switch {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		}
		return 0
	})
	return values
}
