package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderCreatedEvent struct {
	OrderID   string          `json:"order_id"`
	UserEmail string          `json:"user_email"`
	UserName  string          `json:"user_name"`
	Items     []OrderItem     `json:"items"`
	Total     decimal.Decimal `json:"total_amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type OrderApprovedEvent struct {
	OrderID        string          `json:"order_id"`
	UserEmail      string          `json:"user_email"`
	UserName       string          `json:"user_name"`
	Status         OrderStatus     `json:"status"`
	Classification Classification  `json:"classification"`
	Items          []OrderItem     `json:"items"`
	Total          decimal.Decimal `json:"total_amount"`
	ApprovedBy     string          `json:"approved_by"`
	Timestamp      time.Time       `json:"timestamp"`
}
