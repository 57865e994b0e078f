package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Product struct {
	ID                string          `json:"id"`
	CategoryID        *string         `json:"category_id"`
	Name              string          `json:"name"`
	Description       *string         `json:"description"`
	SKU               string          `json:"sku"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	ImageURL          *string         `json:"image_url"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p Product) IsLowStock() bool {
	return p.StockQuantity <= p.LowStockThreshold
}

type LowStockProduct struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	CurrentStock int    `json:"current_stock"`
	Threshold    int    `json:"threshold"`
}

type LowStockReport struct {
	Count    int               `json:"count"`
	Products []LowStockProduct `json:"products"`
}
