package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
)

type ReserveItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ItemApproval struct {
	OrderItemID      string `json:"order_item_id"`
	ApprovedQuantity int    `json:"approved_quantity"`
}

// Reconciliation is the outcome of applying an approval batch to the line
// items of one order.
type Reconciliation struct {
	Items          []domain.OrderItem
	Restocked      map[string]int
	Total          decimal.Decimal
	Classification domain.Classification
}

// Reserve decrements stock for every item inside tx and returns line items
// priced from the product rows. Items are applied in the given order; the
// first one that does not fit fails the whole call and the caller must roll
// tx back.
func Reserve(ctx context.Context, tx Tx, items []ReserveItem) ([]domain.OrderItem, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	products, err := tx.LockProducts(ctx, sortedUnique(ids))
	if err != nil {
		return nil, err
	}

	available := make(map[string]int, len(products))
	for id, p := range products {
		available[id] = p.StockQuantity
	}

	lines := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
		}

		if item.Quantity > available[item.ProductID] {
			return nil, &InsufficientStockError{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: available[item.ProductID],
			}
		}

		if err := tx.AdjustStock(ctx, item.ProductID, -item.Quantity); err != nil {
			if errors.Is(err, ErrInsufficientStock) {
				return nil, &InsufficientStockError{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Available: available[item.ProductID],
				}
			}
			return nil, err
		}
		available[item.ProductID] -= item.Quantity

		lines = append(lines, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     product.Price,
			Product:   &domain.ProductSummary{Name: product.Name, SKU: product.SKU},
		})
	}

	return lines, nil
}

// Reconcile applies approvals to items inside tx. Every unapproved unit is
// returned to its product's stock and each item records its approved
// quantity and status. approvals must cover every item exactly once.
func Reconcile(ctx context.Context, tx Tx, items []domain.OrderItem, approvals []ItemApproval) (*Reconciliation, error) {
	index, err := matchApprovals(items, approvals)
	if err != nil {
		return nil, err
	}

	restock := make(map[string]int)
	for _, approval := range approvals {
		item := items[index[approval.OrderItemID]]
		if delta := item.Quantity - approval.ApprovedQuantity; delta > 0 {
			restock[item.ProductID] += delta
		}
	}

	if len(restock) > 0 {
		ids := make([]string, 0, len(restock))
		for id := range restock {
			ids = append(ids, id)
		}
		// Lock in the same order as Reserve so concurrent workflows
		// always acquire product rows in one global order.
		locked, err := tx.LockProducts(ctx, sortedUnique(ids))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := locked[id]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
			}
		}
	}

	reconciled := slices.Clone(items)
	for _, approval := range approvals {
		i := index[approval.OrderItemID]
		item := &reconciled[i]

		if delta := item.Quantity - approval.ApprovedQuantity; delta > 0 {
			if err := tx.AdjustStock(ctx, item.ProductID, delta); err != nil {
				return nil, err
			}
		}

		approved := approval.ApprovedQuantity
		status := domain.ItemApprovalStatus(item.Quantity, approved)
		if err := tx.SetItemApproval(ctx, item.ID, approved, status); err != nil {
			return nil, err
		}
		item.ApprovedQuantity = &approved
		item.ApprovalStatus = &status
	}

	return &Reconciliation{
		Items:          reconciled,
		Restocked:      restock,
		Total:          domain.Total(reconciled),
		Classification: domain.Classify(reconciled),
	}, nil
}

func matchApprovals(items []domain.OrderItem, approvals []ItemApproval) (map[string]int, error) {
	if len(approvals) == 0 {
		return nil, invalid("itemApprovals", "at least one approval is required")
	}

	byID := make(map[string]int, len(items))
	for i, item := range items {
		byID[item.ID] = i
	}

	index := make(map[string]int, len(approvals))
	for _, approval := range approvals {
		i, ok := byID[approval.OrderItemID]
		if !ok {
			return nil, invalid("itemApprovals", "order item %q does not belong to this order", approval.OrderItemID)
		}
		if _, dup := index[approval.OrderItemID]; dup {
			return nil, invalid("itemApprovals", "order item %q approved more than once", approval.OrderItemID)
		}
		if approval.ApprovedQuantity < 0 {
			return nil, invalid("itemApprovals", "approved quantity for %q must not be negative", approval.OrderItemID)
		}
		if approval.ApprovedQuantity > items[i].Quantity {
			return nil, invalid("itemApprovals", "approved quantity %d for %q exceeds requested %d",
				approval.ApprovedQuantity, approval.OrderItemID, items[i].Quantity)
		}
		index[approval.OrderItemID] = i
	}

	for _, item := range items {
		if _, ok := index[item.ID]; !ok {
			return nil, invalid("itemApprovals", "missing approval for order item %q", item.ID)
		}
	}

	return index, nil
}

func sortedUnique(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
