package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"expensedesk/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Repository is the durable store behind the service. Atomic runs fn inside a
// single all-or-nothing write scope; the Repository passed to fn must be used
// for every read and write that belongs to the scope.
type Repository interface {
	Atomic(ctx context.Context, fn func(repo Repository) error) error

	CreateRole(ctx context.Context, role domain.Role) (*domain.Role, error)
	GetRole(ctx context.Context, id int64) (*domain.Role, error)
	ListRoles(ctx context.Context) ([]domain.Role, error)
	UpdateRole(ctx context.Context, role domain.Role) (*domain.Role, error)
	DeleteRole(ctx context.Context, id int64) error

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListAdmins(ctx context.Context) ([]domain.User, error)

	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItem(ctx context.Context, id int64) (*domain.Item, error)
	GetItemsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	DeleteItem(ctx context.Context, id int64) error
	CreatePriceHistory(ctx context.Context, entry domain.ItemPriceHistory) error
	ListPriceHistory(ctx context.Context, itemID int64) ([]domain.ItemPriceHistory, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	GetExpense(ctx context.Context, id int64) (*domain.Expense, error)
	ListExpenses(ctx context.Context, userID *int64) ([]domain.Expense, error)
	UpdateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	DeleteExpense(ctx context.Context, id int64) error
	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	LatestOrderByUser(ctx context.Context, userID int64) (*domain.Order, error)
	ListOrders(ctx context.Context, userID *int64) ([]domain.Order, error)
	UpdateOrderPrice(ctx context.Context, id int64, price decimal.Decimal) error
	DeleteOrder(ctx context.Context, id int64) error

	CreateOrderItem(ctx context.Context, item domain.OrderItem) (*domain.OrderItem, error)
	GetOrderItem(ctx context.Context, id int64) (*domain.OrderItem, error)
	ListOrderItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error)
	UpdateOrderItem(ctx context.Context, item domain.OrderItem) (*domain.OrderItem, error)
	DeleteOrderItem(ctx context.Context, id int64) error

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, userID int64) ([]domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	// DeleteTransaction removes the transaction and every link to it.
	DeleteTransaction(ctx context.Context, id int64) error
	// TransactionHasExpense reports whether any link ties the transaction to
	// an expense.
	TransactionHasExpense(ctx context.Context, transactionID int64) (bool, error)

	CreateTransactionOrder(ctx context.Context, link domain.TransactionOrder) (*domain.TransactionOrder, error)
	GetTransactionOrderByExpense(ctx context.Context, expenseID int64) (*domain.TransactionOrder, error)
	UpdateTransactionOrder(ctx context.Context, link domain.TransactionOrder) (*domain.TransactionOrder, error)

	CreateNotification(ctx context.Context, n domain.Notification) (*domain.Notification, error)
	ListNotifications(ctx context.Context, receiverID int64) ([]domain.Notification, error)
	GetNotification(ctx context.Context, id int64, receiverID int64) (*domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64, receiverID int64) error

	// ListOrderItemRows returns joined order lines ordered by line id. A nil
	// userID returns every user's lines.
	ListOrderItemRows(ctx context.Context, userID *int64) ([]domain.OrderItemRow, error)
	// ListExpenseLinkRows returns TransactionOrders with a non-null expense.
	ListExpenseLinkRows(ctx context.Context) ([]domain.ExpenseLinkRow, error)
}
