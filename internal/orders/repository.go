package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
)

const uniqueViolation = "23505"

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OrderRepository is the Postgres implementation of Repository. Orders and
// products live in the same database so reservation and order inserts can
// share one transaction.
type OrderRepository struct {
	db *sql.DB
}

var _ Repository = (*OrderRepository)(nil)

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "begin transaction", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "commit transaction", Err: err}
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &StoreError{Op: "get order", Err: err}
	}

	items, err := orderItems(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, userID string) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "list orders", Err: err}
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan order", Err: err}
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list orders", Err: err}
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	items, err := r.ListItemsForOrders(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		order := orderMap[item.OrderID]
		order.Items = append(order.Items, item)
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *OrderRepository) ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+joinedItemColumns+`
		FROM order_items oi
		LEFT JOIN products p ON oi.product_id = p.id
		WHERE oi.order_id = $1
		ORDER BY oi.line_no
	`, orderID)
	if err != nil {
		return nil, &StoreError{Op: "list order items", Err: err}
	}
	return scanJoinedItems(rows)
}

func (r *OrderRepository) ListItemsForOrders(ctx context.Context, orderIDs []string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+joinedItemColumns+`
		FROM order_items oi
		LEFT JOIN products p ON oi.product_id = p.id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.line_no
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, &StoreError{Op: "list items for orders", Err: err}
	}
	return scanJoinedItems(rows)
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, sku, price, stock_quantity, low_stock_threshold
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, pq.Array(ids))
	if err != nil {
		return nil, &StoreError{Op: "lock products", Err: err}
	}
	defer func() { _ = rows.Close() }()

	products := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.StockQuantity, &p.LowStockThreshold); err != nil {
			return nil, &StoreError{Op: "scan product", Err: err}
		}
		products[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "lock products", Err: err}
	}

	return products, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity + $2 >= 0
	`, productID, delta)
	if err != nil {
		return &StoreError{Op: "adjust stock", Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &StoreError{Op: "adjust stock", Err: err}
	}

	if rowsAffected == 0 {
		return ErrInsufficientStock
	}

	return nil
}

func (t *pgTx) FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE idempotency_key = $1
	`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &StoreError{Op: "find order by idempotency key", Err: err}
	}

	items, err := orderItems(ctx, t.tx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, user_email, user_name, user_phone, total_amount, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, order.ID, order.UserID, order.UserEmail, order.UserName, order.UserPhone,
		order.Total, order.Status, order.IdempotencyKey, order.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "orders_idempotency_key_key" {
			return ErrDuplicateIdempotencyKey
		}
		return &StoreError{Op: "insert order", Err: err}
	}
	return nil
}

func (t *pgTx) InsertOrderItem(ctx context.Context, lineNo int, item *domain.OrderItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_items (id, order_id, line_no, product_id, quantity, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.OrderID, lineNo, item.ProductID, item.Quantity, item.Price, item.CreatedAt)
	if err != nil {
		return &StoreError{Op: "insert order item", Err: err}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, &StoreError{Op: "lock order", Err: err}
	}
	return order, nil
}

func (t *pgTx) OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	return orderItems(ctx, t.tx, orderID)
}

func (t *pgTx) SetItemApproval(ctx context.Context, itemID string, approved int, status domain.ApprovalStatus) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE order_items
		SET approved_quantity = $2, approval_status = $3
		WHERE id = $1
	`, itemID, approved, status)
	if err != nil {
		return &StoreError{Op: "set item approval", Err: err}
	}
	return nil
}

func (t *pgTx) SetOrderApproval(ctx context.Context, orderID string, status domain.OrderStatus, total decimal.Decimal, approvedBy string, approvedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, total_amount = $3, approved_by = $4, approved_at = $5, updated_at = $5
		WHERE id = $1
	`, orderID, status, total, approvedBy, approvedAt)
	if err != nil {
		return &StoreError{Op: "set order approval", Err: err}
	}
	return nil
}

func (t *pgTx) SetOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, approvedBy *string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, approved_by = COALESCE($3, approved_by), approved_at = $4, updated_at = $4
		WHERE id = $1
	`, orderID, status, approvedBy, at)
	if err != nil {
		return &StoreError{Op: "set order status", Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &StoreError{Op: "set order status", Err: err}
	}

	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (t *pgTx) InsertAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit (id, trans_type, trans_table, trans_action, transaction_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.TransType, entry.TransTable, entry.TransAction, entry.TransactionBy, entry.CreatedAt)
	if err != nil {
		return &StoreError{Op: "insert audit entry", Err: err}
	}
	return nil
}

const orderColumns = `id, user_id, user_email, user_name, user_phone, total_amount, status, approved_by, approved_at, idempotency_key, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order                                       domain.Order
		userID, userPhone, approvedBy, idempotency sql.NullString
		approvedAt                                  sql.NullTime
	)
	err := row.Scan(&order.ID, &userID, &order.UserEmail, &order.UserName, &userPhone,
		&order.Total, &order.Status, &approvedBy, &approvedAt, &idempotency, &order.CreatedAt)
	if err != nil {
		return nil, err
	}

	order.UserID = nullString(userID)
	order.UserPhone = nullString(userPhone)
	order.ApprovedBy = nullString(approvedBy)
	order.IdempotencyKey = nullString(idempotency)
	if approvedAt.Valid {
		t := approvedAt.Time
		order.ApprovedAt = &t
	}

	return &order, nil
}

func orderItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, price, approved_quantity, approval_status, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no
	`, orderID)
	if err != nil {
		return nil, &StoreError{Op: "query order items", Err: err}
	}
	defer func() { _ = rows.Close() }()

	items := []domain.OrderItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan order item", Err: err}
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "query order items", Err: err}
	}

	return items, nil
}

func scanItem(row rowScanner, extra ...any) (*domain.OrderItem, error) {
	var (
		item           domain.OrderItem
		approvedQty    sql.NullInt64
		approvalStatus sql.NullString
	)
	dest := append([]any{&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price,
		&approvedQty, &approvalStatus, &item.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if approvedQty.Valid {
		q := int(approvedQty.Int64)
		item.ApprovedQuantity = &q
	}
	if approvalStatus.Valid {
		s := domain.ApprovalStatus(approvalStatus.String)
		item.ApprovalStatus = &s
	}

	return &item, nil
}

const joinedItemColumns = `oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price, oi.approved_quantity, oi.approval_status, oi.created_at,
		p.name, p.sku, p.stock_quantity`

func scanJoinedItems(rows *sql.Rows) ([]domain.OrderItem, error) {
	defer func() { _ = rows.Close() }()

	items := []domain.OrderItem{}
	for rows.Next() {
		var (
			name, sku sql.NullString
			stock     sql.NullInt64
		)
		item, err := scanItem(rows, &name, &sku, &stock)
		if err != nil {
			return nil, &StoreError{Op: "scan order item", Err: err}
		}
		if name.Valid {
			summary := &domain.ProductSummary{Name: name.String, SKU: sku.String}
			if stock.Valid {
				s := int(stock.Int64)
				summary.StockQuantity = &s
			}
			item.Product = summary
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "scan order items", Err: err}
	}

	return items, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
