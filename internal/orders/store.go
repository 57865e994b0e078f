package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
)

// Store runs fn inside a single transaction. The transaction commits only
// when fn returns nil; any error rolls back every write made through tx.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of statements the order workflow issues inside a
// transaction.
type Tx interface {
	// LockProducts locks the rows of the given products until the
	// transaction ends. Unknown ids are absent from the result.
	LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// AdjustStock adds delta to the stock of a product. It returns
	// ErrInsufficientStock when the result would be negative.
	AdjustStock(ctx context.Context, productID string, delta int) error

	FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	InsertOrder(ctx context.Context, order *domain.Order) error
	InsertOrderItem(ctx context.Context, lineNo int, item *domain.OrderItem) error
	// LockOrder returns ErrOrderNotFound for an unknown id.
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	SetItemApproval(ctx context.Context, itemID string, approved int, status domain.ApprovalStatus) error
	SetOrderApproval(ctx context.Context, orderID string, status domain.OrderStatus, total decimal.Decimal, approvedBy string, approvedAt time.Time) error
	SetOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, approvedBy *string, at time.Time) error

	InsertAudit(ctx context.Context, entry domain.AuditEntry) error
}

// Repository is a Store that also serves the read side of orders.
type Repository interface {
	Store
	// GetByID returns nil when the order does not exist.
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, userID string) ([]domain.Order, error)
	ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	ListItemsForOrders(ctx context.Context, orderIDs []string) ([]domain.OrderItem, error)
}
