package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusApproved   OrderStatus = "approved"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusApproved, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// ApprovalStatus is the per line item outcome of an approval.
type ApprovalStatus string

const (
	ApprovalStatusProcessing ApprovalStatus = "processing"
	ApprovalStatusPartial    ApprovalStatus = "partial"
	ApprovalStatusRejected   ApprovalStatus = "rejected"
)

// ItemApprovalStatus derives a line item status from the requested and
// approved quantities. A zero approval is a rejection even when nothing
// was requested.
func ItemApprovalStatus(requested, approved int) ApprovalStatus {
	switch {
	case approved == 0:
		return ApprovalStatusRejected
	case approved < requested:
		return ApprovalStatusPartial
	default:
		return ApprovalStatusProcessing
	}
}

// ProductSummary is the display-only product data joined onto line items.
type ProductSummary struct {
	Name          string `json:"name"`
	SKU           string `json:"sku"`
	StockQuantity *int   `json:"stock_quantity,omitempty"`
}

type OrderItem struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	ProductID        string          `json:"product_id"`
	Quantity         int             `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	ApprovedQuantity *int            `json:"approved_quantity"`
	ApprovalStatus   *ApprovalStatus `json:"approval_status"`
	CreatedAt        time.Time       `json:"created_at"`
	Product          *ProductSummary `json:"products,omitempty"`
}

// EffectiveQuantity is the approved quantity once approval happened,
// otherwise the requested one.
func (i OrderItem) EffectiveQuantity() int {
	if i.ApprovedQuantity != nil {
		return *i.ApprovedQuantity
	}
	return i.Quantity
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.EffectiveQuantity())))
}

type Order struct {
	ID             string          `json:"id"`
	UserID         *string         `json:"user_id"`
	UserEmail      string          `json:"user_email"`
	UserName       string          `json:"user_name"`
	UserPhone      *string         `json:"user_phone"`
	Total          decimal.Decimal `json:"total_amount"`
	Status         OrderStatus     `json:"status"`
	ApprovedBy     *string         `json:"approved_by"`
	ApprovedAt     *time.Time      `json:"approved_at"`
	IdempotencyKey *string         `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []OrderItem     `json:"items,omitempty"`
}

// Total sums the effective line totals of items.
func Total(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}
