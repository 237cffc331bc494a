package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

type Role struct {
	ID       int64  `json:"id"`
	RoleName string `json:"role_name"`
}

type RoleRequest struct {
	RoleName string `json:"role_name"`
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	RoleID    *int64    `json:"role_id,omitempty"`
	RoleName  string    `json:"role_name,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) IsAdmin() bool {
	return strings.EqualFold(strings.TrimSpace(u.RoleName), RoleAdmin)
}

func (u User) Actor() Actor {
	return Actor{UserID: u.ID, Username: u.Username, Role: strings.ToLower(u.RoleName)}
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	RoleID   *int64 `json:"role_id,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
	User        User   `json:"user"`
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID   int64
	Username string
	Role     string
}

func (a Actor) IsAdmin() bool {
	return strings.EqualFold(a.Role, RoleAdmin)
}

type Category struct {
	ID           int64     `json:"id"`
	CategoryName string    `json:"category_name"`
	CreatedUser  int64     `json:"created_user"`
	CreatedAt    time.Time `json:"created_at"`
}

type CategoryRequest struct {
	CategoryName string `json:"category_name"`
}

type Item struct {
	ID          int64           `json:"id"`
	ItemName    string          `json:"item_name"`
	ItemPrice   decimal.Decimal `json:"item_price"`
	CategoryID  *int64          `json:"category_id,omitempty"`
	CreatedUser int64           `json:"created_user"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ItemRequest struct {
	ItemName   string          `json:"item_name"`
	ItemPrice  decimal.Decimal `json:"item_price"`
	CategoryID *int64          `json:"category_id,omitempty"`
}

type ItemPriceHistory struct {
	ID     int64           `json:"id"`
	ItemID int64           `json:"item_id"`
	Price  decimal.Decimal `json:"price"`
	Date   time.Time       `json:"date"`
}

type Expense struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user"`
	Date        Date            `json:"date"`
	Description string          `json:"description"`
	ExpenseType string          `json:"expense_type"`
	Amount      decimal.Decimal `json:"amount"`
	IsVerified  bool            `json:"is_verified"`
	IsRefunded  bool            `json:"is_refunded"`
	Bill        *string         `json:"bill,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Date        string           `json:"date"`
	Description string           `json:"description"`
	ExpenseType string           `json:"expense_type"`
	Amount      *decimal.Decimal `json:"amount"`
	Bill        *string          `json:"bill,omitempty"`
}

type ExpenseUpdateRequest struct {
	Description *string          `json:"description,omitempty"`
	ExpenseType *string          `json:"expense_type,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	IsVerified  *bool            `json:"is_verified,omitempty"`
	IsRefunded  *bool            `json:"is_refunded,omitempty"`
}

// TouchesAdminFields reports whether the update sets verification or refund state.
func (r ExpenseUpdateRequest) TouchesAdminFields() bool {
	return r.IsVerified != nil || r.IsRefunded != nil
}

type Bill struct {
	ID         int64     `json:"id"`
	ExpenseID  int64     `json:"expense_id"`
	FileRef    string    `json:"file_ref"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Order struct {
	ID              int64           `json:"id"`
	CreatedUser     int64           `json:"created_user"`
	CalculatedPrice decimal.Decimal `json:"calculated_price"`
	CreatedDate     time.Time       `json:"created_date"`
	AddedDate       Date            `json:"added_date"`
	Items           []OrderItem     `json:"order_items,omitempty"`
}

type OrderItem struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order"`
	ItemID    int64     `json:"item"`
	Count     int       `json:"count"`
	AddedDate time.Time `json:"added_date"`
}

// OrderItemInput is one submitted order line. ID is set only when replacing
// the lines of an existing order; AddedDate is only read on order creation.
type OrderItemInput struct {
	ID        *int64 `json:"id,omitempty"`
	ItemID    int64  `json:"item"`
	Count     int    `json:"count"`
	AddedDate string `json:"added_date,omitempty"`
}

type OrderCreateRequest struct {
	OrderItems []OrderItemInput `json:"order_items"`
}

type OrderReplaceRequest struct {
	OrderItems []OrderItemInput `json:"order_items"`
}

type OrderItemCreateRequest struct {
	OrderID   int64  `json:"order"`
	ItemID    int64  `json:"item"`
	Count     int    `json:"count"`
	AddedDate string `json:"added_date,omitempty"`
}

type OrderItemUpdateRequest struct {
	ItemID *int64 `json:"item,omitempty"`
	Count  *int   `json:"count,omitempty"`
}

type Transaction struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     string          `json:"status"`
	FromDate   time.Time       `json:"from_date"`
	ToDate     time.Time       `json:"to_date"`
}

// TransactionRequest creates or partially updates a Transaction. Unset dates
// default to now on create.
type TransactionRequest struct {
	TotalPrice *decimal.Decimal `json:"total_price,omitempty"`
	Status     *string          `json:"status,omitempty"`
	FromDate   *time.Time       `json:"from_date,omitempty"`
	ToDate     *time.Time       `json:"to_date,omitempty"`
}

// TransactionOrder links a Transaction to at most one Expense and one Order.
type TransactionOrder struct {
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transaction"`
	ExpenseID     *int64    `json:"expense,omitempty"`
	OrderID       int64     `json:"order_id"`
	CreatedDate   time.Time `json:"created_date"`
}

type Notification struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender"`
	ReceiverID int64     `json:"receiver"`
	Message    string    `json:"message"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrderItemRow is an order line joined with its item and order, the input of
// every order-side report.
type OrderItemRow struct {
	OrderItemID int64           `json:"order_item_id"`
	OrderID     int64           `json:"order_id"`
	OrderPrice  decimal.Decimal `json:"order_price"`
	UserID      int64           `json:"user_id"`
	Username    string          `json:"username"`
	ItemID      int64           `json:"item_id"`
	ItemName    string          `json:"item_name"`
	ItemPrice   decimal.Decimal `json:"item_price"`
	Count       int             `json:"count"`
	AddedDate   time.Time       `json:"added_date"`
}

// ExpenseLinkRow is a TransactionOrder with a non-null expense, joined with
// the expense amount.
type ExpenseLinkRow struct {
	TransactionOrderID int64
	ExpenseID          int64
	Amount             decimal.Decimal
	CreatedDate        time.Time
}

type DailyTotal struct {
	Date          string  `json:"date"`
	OrderTotal    float64 `json:"order_total"`
	ExpenseTotal  float64 `json:"expense_total"`
	CombinedTotal float64 `json:"combined_total"`
}

type DailyUserSummary struct {
	Date        string  `json:"date"`
	User        string  `json:"user"`
	TotalCount  int     `json:"total_count"`
	TotalAmount float64 `json:"total_amount"`
	OrderID     int64   `json:"order_id"`
}

type GroupedItem struct {
	ItemID   int64   `json:"item_id"`
	ItemName string  `json:"item_name"`
	Price    float64 `json:"price"`
	Count    int     `json:"count"`
	Total    float64 `json:"total"`
}

type GroupedItemsFilter struct {
	StartDate    string
	EndDate      string
	SpecificDate string
	Month        string
}

type GroupedItemsResponse struct {
	Results     map[string][]GroupedItem `json:"results"`
	TotalPrice  float64                  `json:"total_price"`
	TotalPages  int                      `json:"total_pages"`
	CurrentPage int                      `json:"current_page"`
}

const (
	RoleAdmin = "admin"
)

const (
	ExpenseTypeProduct = "Product"
	ExpenseTypeService = "Service"
)

const (
	TransactionPending   = "Pending"
	TransactionCompleted = "Completed"
)
