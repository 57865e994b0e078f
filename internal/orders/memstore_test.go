package orders

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
)

// memStore is an in-memory Repository. Transactions are serialized by a
// mutex and operate on a copy of the state that replaces the committed
// state only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state memState

	// failOn makes the named Tx method return the error.
	failOn map[string]error
	// hideKeys makes FindOrderByIdempotencyKey miss this many times,
	// which simulates a concurrent insert that committed in between.
	hideKeys int
	locks    [][]string
}

type memState struct {
	products map[string]domain.Product
	orders   map[string]domain.Order
	items    map[string][]domain.OrderItem
	audit    []domain.AuditEntry
}

var _ Repository = (*memStore)(nil)

func newMemStore(products ...domain.Product) *memStore {
	s := &memStore{
		state: memState{
			products: map[string]domain.Product{},
			orders:   map[string]domain.Order{},
			items:    map[string][]domain.OrderItem{},
		},
		failOn: map[string]error{},
	}
	for _, p := range products {
		s.state.products[p.ID] = p
	}
	return s
}

func (st memState) clone() memState {
	items := make(map[string][]domain.OrderItem, len(st.items))
	for id, list := range st.items {
		items[id] = slices.Clone(list)
	}
	return memState{
		products: maps.Clone(st.products),
		orders:   maps.Clone(st.orders),
		items:    items,
		audit:    slices.Clone(st.audit),
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *memStore) stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.products[id].StockQuantity
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *memStore) auditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.audit)
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.state.orders[id]
	if !ok {
		return nil, nil
	}
	order.Items = slices.Clone(s.state.items[id])
	return &order, nil
}

func (s *memStore) List(_ context.Context, userID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, order := range s.state.orders {
		if userID != "" && (order.UserID == nil || *order.UserID != userID) {
			continue
		}
		order.Items = slices.Clone(s.state.items[order.ID])
		out = append(out, order)
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *memStore) ListItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.items[orderID]), nil
}

func (s *memStore) ListItemsForOrders(_ context.Context, orderIDs []string) ([]domain.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.OrderItem
	for _, id := range orderIDs {
		out = append(out, s.state.items[id]...)
	}
	return out, nil
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) fail(op string) error {
	return t.store.failOn[op]
}

func (t *memTx) LockProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	if err := t.fail("LockProducts"); err != nil {
		return nil, err
	}
	t.store.locks = append(t.store.locks, slices.Clone(ids))

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.state.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) AdjustStock(_ context.Context, productID string, delta int) error {
	if err := t.fail("AdjustStock"); err != nil {
		return err
	}
	p, ok := t.state.products[productID]
	if !ok || p.StockQuantity+delta < 0 {
		return ErrInsufficientStock
	}
	p.StockQuantity += delta
	t.state.products[productID] = p
	return nil
}

func (t *memTx) FindOrderByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	if err := t.fail("FindOrderByIdempotencyKey"); err != nil {
		return nil, err
	}
	if t.store.hideKeys > 0 {
		t.store.hideKeys--
		return nil, nil
	}
	for _, order := range t.state.orders {
		if order.IdempotencyKey != nil && *order.IdempotencyKey == key {
			order.Items = slices.Clone(t.state.items[order.ID])
			return &order, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertOrder(_ context.Context, order *domain.Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	if order.IdempotencyKey != nil {
		for _, existing := range t.state.orders {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *order.IdempotencyKey {
				return ErrDuplicateIdempotencyKey
			}
		}
	}
	stored := *order
	stored.Items = nil
	t.state.orders[order.ID] = stored
	return nil
}

func (t *memTx) InsertOrderItem(_ context.Context, _ int, item *domain.OrderItem) error {
	if err := t.fail("InsertOrderItem"); err != nil {
		return err
	}
	t.state.items[item.OrderID] = append(t.state.items[item.OrderID], *item)
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (*domain.Order, error) {
	if err := t.fail("LockOrder"); err != nil {
		return nil, err
	}
	order, ok := t.state.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

func (t *memTx) OrderItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	if err := t.fail("OrderItems"); err != nil {
		return nil, err
	}
	return slices.Clone(t.state.items[orderID]), nil
}

func (t *memTx) SetItemApproval(_ context.Context, itemID string, approved int, status domain.ApprovalStatus) error {
	if err := t.fail("SetItemApproval"); err != nil {
		return err
	}
	for orderID, list := range t.state.items {
		for i := range list {
			if list[i].ID == itemID {
				a, st := approved, status
				list[i].ApprovedQuantity = &a
				list[i].ApprovalStatus = &st
				t.state.items[orderID] = list
				return nil
			}
		}
	}
	return nil
}

func (t *memTx) SetOrderApproval(_ context.Context, orderID string, status domain.OrderStatus, total decimal.Decimal, approvedBy string, approvedAt time.Time) error {
	if err := t.fail("SetOrderApproval"); err != nil {
		return err
	}
	order := t.state.orders[orderID]
	order.Status = status
	order.Total = total
	order.ApprovedBy = &approvedBy
	order.ApprovedAt = &approvedAt
	t.state.orders[orderID] = order
	return nil
}

func (t *memTx) SetOrderStatus(_ context.Context, orderID string, status domain.OrderStatus, approvedBy *string, at time.Time) error {
	if err := t.fail("SetOrderStatus"); err != nil {
		return err
	}
	order, ok := t.state.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	if approvedBy != nil {
		order.ApprovedBy = approvedBy
	}
	order.ApprovedAt = &at
	t.state.orders[orderID] = order
	return nil
}

func (t *memTx) InsertAudit(_ context.Context, entry domain.AuditEntry) error {
	if err := t.fail("InsertAudit"); err != nil {
		return err
	}
	t.state.audit = append(t.state.audit, entry)
	return nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) published() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

func product(id string, stock int, price string) domain.Product {
	return domain.Product{
		ID:                id,
		Name:              "Product " + id,
		SKU:               "SKU-" + id,
		Price:             decimal.RequireFromString(price),
		StockQuantity:     stock,
		LowStockThreshold: 5,
	}
}
