package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"expensedesk/backend/internal/domain"
	"expensedesk/backend/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  querier
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db, q: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Atomic(ctx context.Context, fn func(repo store.Repository) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateRole(ctx context.Context, role domain.Role) (*domain.Role, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO roles (role_name) VALUES ($1) RETURNING id
	`, role.RoleName).Scan(&role.ID)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &role, nil
}

func (s *Store) GetRole(ctx context.Context, id int64) (*domain.Role, error) {
	var role domain.Role
	err := s.q.QueryRowContext(ctx, `SELECT id, role_name FROM roles WHERE id = $1`, id).Scan(&role.ID, &role.RoleName)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, role_name FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]domain.Role, 0, 8)
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.RoleName); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *Store) UpdateRole(ctx context.Context, role domain.Role) (*domain.Role, error) {
	res, err := s.q.ExecContext(ctx, `UPDATE roles SET role_name = $2 WHERE id = $1`, role.ID, role.RoleName)
	if err := expectAffected(res, err); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	return expectAffected(res, err)
}

const userColumns = `u.id, u.username, u.email, u.password, u.role_id, COALESCE(r.role_name, ''), u.active, u.created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var roleID sql.NullInt64
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Password, &roleID, &user.RoleName, &user.Active, &user.CreatedAt); err != nil {
		return nil, err
	}
	if roleID.Valid {
		user.RoleID = &roleID.Int64
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password, role_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,COALESCE($6, now()))
		RETURNING id
	`, user.Username, user.Email, user.Password, nullInt(user.RoleID), user.Active, nullTime(user.CreatedAt)).Scan(&id)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u LEFT JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1
	`, id))
	if err != nil {
		return nil, mapReadErr(err)
	}
	return user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u LEFT JOIN roles r ON r.id = u.role_id
		WHERE lower(u.username) = lower($1)
	`, username))
	if err != nil {
		return nil, mapReadErr(err)
	}
	return user, nil
}

func (s *Store) ListAdmins(ctx context.Context) ([]domain.User, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN roles r ON r.id = u.role_id
		WHERE lower(r.role_name) = $1
		ORDER BY u.id
	`, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	admins := make([]domain.User, 0, 4)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		admins = append(admins, *user)
	}
	return admins, rows.Err()
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO categories (category_name, created_user, created_at)
		VALUES ($1,$2,COALESCE($3, now()))
		RETURNING id, created_at
	`, category.CategoryName, category.CreatedUser, nullTime(category.CreatedAt)).Scan(&category.ID, &category.CreatedAt)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &category, nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	var c domain.Category
	err := s.q.QueryRowContext(ctx, `
		SELECT id, category_name, created_user, created_at FROM categories WHERE id = $1
	`, id).Scan(&c.ID, &c.CategoryName, &c.CreatedUser, &c.CreatedAt)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, category_name, created_user, created_at FROM categories ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.CategoryName, &c.CreatedUser, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	res, err := s.q.ExecContext(ctx, `UPDATE categories SET category_name = $2 WHERE id = $1`, category.ID, category.CategoryName)
	if err := expectAffected(res, err); err != nil {
		return nil, err
	}
	return &category, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	return expectAffected(res, err)
}

const itemColumns = `id, item_name, item_price, category_id, created_user, created_at`

func scanItem(row interface{ Scan(...any) error }) (*domain.Item, error) {
	var item domain.Item
	var categoryID sql.NullInt64
	if err := row.Scan(&item.ID, &item.ItemName, &item.ItemPrice, &categoryID, &item.CreatedUser, &item.CreatedAt); err != nil {
		return nil, err
	}
	if categoryID.Valid {
		item.CategoryID = &categoryID.Int64
	}
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO items (item_name, item_price, category_id, created_user, created_at)
		VALUES ($1,$2,$3,$4,COALESCE($5, now()))
		RETURNING id, created_at
	`, item.ItemName, item.ItemPrice, nullInt(item.CategoryID), item.CreatedUser, nullTime(item.CreatedAt)).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &item, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	item, err := scanItem(s.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return nil, mapReadErr(err)
	}
	return item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Item, error) {
	result := make(map[int64]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.q.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = *item
	}
	return result, rows.Err()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE items SET item_name = $2, item_price = $3, category_id = $4 WHERE id = $1
	`, item.ID, item.ItemName, item.ItemPrice, nullInt(item.CategoryID))
	if err := expectAffected(res, err); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	return expectAffected(res, err)
}

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.ItemPriceHistory) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO item_price_history (item_id, price, date) VALUES ($1,$2,COALESCE($3, now()))
	`, entry.ItemID, entry.Price, nullTime(entry.Date))
	return mapWriteErr(err)
}

func (s *Store) ListPriceHistory(ctx context.Context, itemID int64) ([]domain.ItemPriceHistory, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, item_id, price, date
		FROM item_price_history
		WHERE item_id = $1
		ORDER BY date DESC, id DESC
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.ItemPriceHistory, 0, 16)
	for rows.Next() {
		var h domain.ItemPriceHistory
		if err := rows.Scan(&h.ID, &h.ItemID, &h.Price, &h.Date); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

const expenseColumns = `id, user_id, date, description, expense_type, amount, is_verified, is_refunded, bill, created_at`

func scanExpense(row interface{ Scan(...any) error }) (*domain.Expense, error) {
	var e domain.Expense
	var bill sql.NullString
	if err := row.Scan(&e.ID, &e.UserID, &e.Date.Time, &e.Description, &e.ExpenseType, &e.Amount, &e.IsVerified, &e.IsRefunded, &bill, &e.CreatedAt); err != nil {
		return nil, err
	}
	if bill.Valid {
		e.Bill = &bill.String
	}
	return &e, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO expenses (user_id, date, description, expense_type, amount, is_verified, is_refunded, bill, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,COALESCE($9, now()))
		RETURNING id, created_at
	`, expense.UserID, expense.Date.Time, expense.Description, expense.ExpenseType, expense.Amount,
		expense.IsVerified, expense.IsRefunded, expense.Bill, nullTime(expense.CreatedAt)).Scan(&expense.ID, &expense.CreatedAt)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &expense, nil
}

func (s *Store) GetExpense(ctx context.Context, id int64) (*domain.Expense, error) {
	e, err := scanExpense(s.q.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, id))
	if err != nil {
		return nil, mapReadErr(err)
	}
	return e, nil
}

func (s *Store) ListExpenses(ctx context.Context, userID *int64) ([]domain.Expense, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+expenseColumns+`
		FROM expenses
		WHERE $1::bigint IS NULL OR user_id = $1
		ORDER BY id
	`, nullInt(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *e)
	}
	return expenses, rows.Err()
}

func (s *Store) UpdateExpense(ctx context.Context, e domain.Expense) (*domain.Expense, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE expenses
		SET description = $2, expense_type = $3, amount = $4, is_verified = $5, is_refunded = $6, bill = $7
		WHERE id = $1
	`, e.ID, e.Description, e.ExpenseType, e.Amount, e.IsVerified, e.IsRefunded, e.Bill)
	if err := expectAffected(res, err); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	return expectAffected(res, err)
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO bills (expense_id, file_ref, uploaded_at) VALUES ($1,$2,COALESCE($3, now()))
		RETURNING id, uploaded_at
	`, bill.ExpenseID, bill.FileRef, nullTime(bill.UploadedAt)).Scan(&bill.ID, &bill.UploadedAt)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &bill, nil
}

const orderColumns = `id, created_user, calculated_price, created_date, added_date`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	if err := row.Scan(&o.ID, &o.CreatedUser, &o.CalculatedPrice, &o.CreatedDate, &o.AddedDate.Time); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.CreatedDate.IsZero() {
		order.CreatedDate = time.Now().UTC()
	}
	if order.AddedDate.IsZero() {
		order.AddedDate = domain.NewDate(order.CreatedDate)
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO orders (created_user, calculated_price, created_date, added_date)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, order.CreatedUser, order.CalculatedPrice, order.CreatedDate, order.AddedDate.Time).Scan(&order.ID)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	order.Items = nil
	return &order, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := scanOrder(s.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, mapReadErr(err)
	}
	order.Items, err = s.ListOrderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) LatestOrderByUser(ctx context.Context, userID int64) (*domain.Order, error) {
	order, err := scanOrder(s.q.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE created_user = $1
		ORDER BY created_date DESC, id DESC
		LIMIT 1
	`, userID))
	if err != nil {
		return nil, mapReadErr(err)
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, userID *int64) ([]domain.Order, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE $1::bigint IS NULL OR created_user = $1
		ORDER BY id
	`, nullInt(userID))
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range orders {
		orders[i].Items, err = s.ListOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) UpdateOrderPrice(ctx context.Context, id int64, price decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx, `UPDATE orders SET calculated_price = $2 WHERE id = $1`, id, price)
	return expectAffected(res, err)
}

func (s *Store) DeleteOrder(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	return expectAffected(res, err)
}

func (s *Store) CreateOrderItem(ctx context.Context, line domain.OrderItem) (*domain.OrderItem, error) {
	if line.AddedDate.IsZero() {
		line.AddedDate = time.Now().UTC()
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO order_items (order_id, item_id, count, added_date) VALUES ($1,$2,$3,$4)
		RETURNING id
	`, line.OrderID, line.ItemID, line.Count, line.AddedDate).Scan(&line.ID)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &line, nil
}

func (s *Store) GetOrderItem(ctx context.Context, id int64) (*domain.OrderItem, error) {
	var line domain.OrderItem
	err := s.q.QueryRowContext(ctx, `
		SELECT id, order_id, item_id, count, added_date FROM order_items WHERE id = $1
	`, id).Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Count, &line.AddedDate)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &line, nil
}

func (s *Store) ListOrderItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, order_id, item_id, count, added_date FROM order_items WHERE order_id = $1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var line domain.OrderItem
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Count, &line.AddedDate); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) UpdateOrderItem(ctx context.Context, line domain.OrderItem) (*domain.OrderItem, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE order_items SET item_id = $2, count = $3, added_date = $4 WHERE id = $1
	`, line.ID, line.ItemID, line.Count, line.AddedDate)
	if err := expectAffected(res, err); err != nil {
		return nil, err
	}
	return &line, nil
}

func (s *Store) DeleteOrderItem(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, id)
	return expectAffected(res, err)
}

const transactionColumns = `id, user_id, total_price, status, from_date, to_date`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var t domain.Transaction
	if err := row.Scan(&t.ID, &t.UserID, &t.TotalPrice, &t.Status, &t.FromDate, &t.ToDate); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO transactions (user_id, total_price, status, from_date, to_date)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, tx.UserID, tx.TotalPrice, tx.Status, tx.FromDate, tx.ToDate).Scan(&tx.ID)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	t, err := scanTransaction(s.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, mapReadErr(err)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID int64) ([]domain.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

func (s *Store) UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions SET total_price = $2, status = $3, from_date = $4, to_date = $5 WHERE id = $1
	`, tx.ID, tx.TotalPrice, tx.Status, tx.FromDate, tx.ToDate)
	if err := expectAffected(res, err); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	return expectAffected(res, err)
}

func (s *Store) TransactionHasExpense(ctx context.Context, transactionID int64) (bool, error) {
	var linked bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transaction_orders WHERE transaction_id = $1 AND expense_id IS NOT NULL
		)
	`, transactionID).Scan(&linked)
	return linked, err
}

func (s *Store) CreateTransactionOrder(ctx context.Context, link domain.TransactionOrder) (*domain.TransactionOrder, error) {
	if link.CreatedDate.IsZero() {
		link.CreatedDate = time.Now().UTC()
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO transaction_orders (transaction_id, expense_id, order_id, created_date)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, link.TransactionID, nullInt(link.ExpenseID), link.OrderID, link.CreatedDate).Scan(&link.ID)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &link, nil
}

func (s *Store) GetTransactionOrderByExpense(ctx context.Context, expenseID int64) (*domain.TransactionOrder, error) {
	var link domain.TransactionOrder
	var linked sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT id, transaction_id, expense_id, order_id, created_date
		FROM transaction_orders
		WHERE expense_id = $1
	`, expenseID).Scan(&link.ID, &link.TransactionID, &linked, &link.OrderID, &link.CreatedDate)
	if err != nil {
		return nil, mapReadErr(err)
	}
	if linked.Valid {
		link.ExpenseID = &linked.Int64
	}
	return &link, nil
}

func (s *Store) UpdateTransactionOrder(ctx context.Context, link domain.TransactionOrder) (*domain.TransactionOrder, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transaction_orders SET transaction_id = $2, expense_id = $3, order_id = $4 WHERE id = $1
	`, link.ID, link.TransactionID, nullInt(link.ExpenseID), link.OrderID)
	if err := expectAffected(res, err); err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) (*domain.Notification, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO notifications (sender_id, receiver_id, message, is_read, created_at)
		VALUES ($1,$2,$3,$4,COALESCE($5, now()))
		RETURNING id, created_at
	`, n.SenderID, n.ReceiverID, n.Message, n.IsRead, nullTime(n.CreatedAt)).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return &n, nil
}

func (s *Store) ListNotifications(ctx context.Context, receiverID int64) ([]domain.Notification, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, message, is_read, created_at
		FROM notifications
		WHERE receiver_id = $1
		ORDER BY id DESC
	`, receiverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0, 16)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.SenderID, &n.ReceiverID, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *Store) GetNotification(ctx context.Context, id int64, receiverID int64) (*domain.Notification, error) {
	var n domain.Notification
	err := s.q.QueryRowContext(ctx, `
		SELECT id, sender_id, receiver_id, message, is_read, created_at
		FROM notifications
		WHERE id = $1 AND receiver_id = $2
	`, id, receiverID).Scan(&n.ID, &n.SenderID, &n.ReceiverID, &n.Message, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &n, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id int64, receiverID int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE notifications SET is_read = true WHERE id = $1 AND receiver_id = $2
	`, id, receiverID)
	return expectAffected(res, err)
}

func (s *Store) ListOrderItemRows(ctx context.Context, userID *int64) ([]domain.OrderItemRow, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT oi.id, o.id, o.calculated_price, o.created_user, u.username,
			i.id, i.item_name, i.item_price, oi.count, oi.added_date
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN items i ON i.id = oi.item_id
		JOIN users u ON u.id = o.created_user
		WHERE $1::bigint IS NULL OR o.created_user = $1
		ORDER BY oi.id
	`, nullInt(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.OrderItemRow, 0, 128)
	for rows.Next() {
		var r domain.OrderItemRow
		if err := rows.Scan(&r.OrderItemID, &r.OrderID, &r.OrderPrice, &r.UserID, &r.Username,
			&r.ItemID, &r.ItemName, &r.ItemPrice, &r.Count, &r.AddedDate); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) ListExpenseLinkRows(ctx context.Context) ([]domain.ExpenseLinkRow, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.id, e.id, e.amount, t.created_date
		FROM transaction_orders t
		JOIN expenses e ON e.id = t.expense_id
		ORDER BY t.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ExpenseLinkRow, 0, 64)
	for rows.Next() {
		var r domain.ExpenseLinkRow
		if err := rows.Scan(&r.TransactionOrderID, &r.ExpenseID, &r.Amount, &r.CreatedDate); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func mapReadErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrConflict)
		case "23503":
			if pgErr.Message != "" && pgErr.TableName != "" {
				return fmt.Errorf("%s references missing row: %w", pgErr.TableName, store.ErrNotFound)
			}
			return store.ErrNotFound
		}
	}
	return err
}

func expectAffected(res sql.Result, err error) error {
	if err != nil {
		return mapDeleteErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapDeleteErr turns a foreign-key violation on update/delete into a conflict:
// the row is still referenced elsewhere.
func mapDeleteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%s is still referenced: %w", pgErr.TableName, store.ErrConflict)
	}
	return mapWriteErr(err)
}

func nullInt(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
