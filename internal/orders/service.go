package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
	"github.com/joao-fontenele/procurement-storefront/internal/telemetry"
)

var tracer = otel.Tracer("storefront/orders")

const defaultTxTimeout = 15 * time.Second

// Publisher delivers domain events after a transaction has committed.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// StatusPolicy maps an approval classification to the order status it
// leaves behind.
type StatusPolicy map[domain.Classification]domain.OrderStatus

var DefaultStatusPolicy = StatusPolicy{
	domain.FullyApproved:     domain.OrderStatusApproved,
	domain.PartiallyApproved: domain.OrderStatusProcessing,
	domain.AllRejected:       domain.OrderStatusCancelled,
}

func (p StatusPolicy) StatusFor(c domain.Classification) domain.OrderStatus {
	if status, ok := p[c]; ok {
		return status
	}
	return DefaultStatusPolicy[c]
}

type Service struct {
	repo      Repository
	created   Publisher
	approved  Publisher
	policy    StatusPolicy
	metrics   *telemetry.OrderMetrics
	txTimeout time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

// WithPublishers sets the publishers for order.created and order.approved
// events. Either may be nil.
func WithPublishers(created, approved Publisher) Option {
	return func(s *Service) {
		s.created = created
		s.approved = approved
	}
}

func WithStatusPolicy(policy StatusPolicy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

// WithTxTimeout bounds how long a state-changing transaction may run once
// started. The bound applies even after the caller's context is cancelled.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo Repository, logger *slog.Logger, opts ...Option) (*Service, error) {
	metrics, err := telemetry.NewOrderMetrics()
	if err != nil {
		return nil, fmt.Errorf("create order metrics: %w", err)
	}

	s := &Service{
		repo:      repo,
		policy:    DefaultStatusPolicy,
		metrics:   metrics,
		txTimeout: defaultTxTimeout,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

type CreateOrderInput struct {
	UserID         *string       `json:"user_id"`
	UserEmail      string        `json:"user_email"`
	UserName       string        `json:"user_name"`
	UserPhone      *string       `json:"user_phone"`
	Items          []ReserveItem `json:"items"`
	IdempotencyKey string        `json:"-"`
}

func (in CreateOrderInput) Validate() error {
	if strings.TrimSpace(in.UserEmail) == "" {
		return invalid("user_email", "is required")
	}
	if _, err := mail.ParseAddress(in.UserEmail); err != nil {
		return invalid("user_email", "is not a valid address")
	}
	if strings.TrimSpace(in.UserName) == "" {
		return invalid("user_name", "is required")
	}
	if len(in.Items) == 0 {
		return invalid("items", "at least one item is required")
	}
	for i, item := range in.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return invalid(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if item.Quantity <= 0 {
			return invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than 0")
		}
	}
	return nil
}

// CreateOrder reserves stock for every requested item and persists the
// order with its line items in one transaction. With an idempotency key
// that was already used, the existing order is returned and nothing is
// reserved.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder",
		trace.WithAttributes(attribute.Int("order.items", len(in.Items))),
	)
	defer span.End()

	if err := in.Validate(); err != nil {
		recordError(span, err)
		return nil, err
	}

	var order *domain.Order
	created := false

	err := s.withinTx(ctx, func(ctx context.Context, tx Tx) error {
		if in.IdempotencyKey != "" {
			existing, err := tx.FindOrderByIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				order = existing
				return nil
			}
		}

		lines, err := Reserve(ctx, tx, in.Items)
		if err != nil {
			return err
		}

		now := s.now()
		o := &domain.Order{
			ID:        uuid.New().String(),
			UserID:    nonEmpty(in.UserID),
			UserEmail: strings.TrimSpace(in.UserEmail),
			UserName:  strings.TrimSpace(in.UserName),
			UserPhone: nonEmpty(in.UserPhone),
			Status:    domain.OrderStatusPending,
			CreatedAt: now,
		}
		if in.IdempotencyKey != "" {
			key := in.IdempotencyKey
			o.IdempotencyKey = &key
		}
		for i := range lines {
			lines[i].ID = uuid.New().String()
			lines[i].OrderID = o.ID
			lines[i].CreatedAt = now
		}
		o.Items = lines
		o.Total = domain.Total(lines)

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		for i := range o.Items {
			if err := tx.InsertOrderItem(ctx, i+1, &o.Items[i]); err != nil {
				return err
			}
		}

		if err := tx.InsertAudit(ctx, s.audit("INSERT", "orders",
			fmt.Sprintf("order %s created with %d items, total %s", o.ID, len(o.Items), o.Total.StringFixed(2)),
			o.UserID)); err != nil {
			return err
		}

		order = o
		created = true
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// A concurrent request with the same key committed first.
		order, err = s.findByIdempotencyKey(ctx, in.IdempotencyKey)
	}
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.metrics.ReservationRejected(ctx)
		}
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	if !created {
		s.logger.Info("idempotent order replay", "order_id", order.ID)
		return order, nil
	}

	s.metrics.OrderCreated(ctx)
	s.publishCreated(ctx, order)
	return order, nil
}

type ApproveOrderInput struct {
	OrderID    string
	Approvals  []ItemApproval
	ApprovedBy string
	// RequestedStatus and RequestedTotal are what the caller computed on
	// its side. They are only compared against the derived values.
	RequestedStatus string
	RequestedTotal  *decimal.Decimal
}

type ApprovalResult struct {
	Order          *domain.Order
	Classification domain.Classification
	Restocked      map[string]int
}

// ApproveOrder reconciles a pending order against per item approvals. The
// new status and total are derived from the reconciliation; stock for every
// unapproved unit is returned in the same transaction.
func (s *Service) ApproveOrder(ctx context.Context, in ApproveOrderInput) (*ApprovalResult, error) {
	ctx, span := tracer.Start(ctx, "orders.ApproveOrder",
		trace.WithAttributes(
			attribute.String("order.id", in.OrderID),
			attribute.Int("order.approvals", len(in.Approvals)),
		),
	)
	defer span.End()

	if err := validateApproval(in); err != nil {
		recordError(span, err)
		return nil, err
	}

	var result *ApprovalResult
	err := s.withinTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", ErrOrderNotPending, order.ID, order.Status)
		}

		items, err := tx.OrderItems(ctx, order.ID)
		if err != nil {
			return err
		}

		rec, err := Reconcile(ctx, tx, items, in.Approvals)
		if err != nil {
			return err
		}

		now := s.now()
		status := s.policy.StatusFor(rec.Classification)
		if err := tx.SetOrderApproval(ctx, order.ID, status, rec.Total, in.ApprovedBy, now); err != nil {
			return err
		}

		approvedBy := in.ApprovedBy
		if err := tx.InsertAudit(ctx, s.audit("UPDATE", "orders",
			fmt.Sprintf("order %s %s: status %s -> %s, total %s -> %s", order.ID, rec.Classification,
				order.Status, status, order.Total.StringFixed(2), rec.Total.StringFixed(2)),
			&approvedBy)); err != nil {
			return err
		}

		order.Status = status
		order.Total = rec.Total
		order.ApprovedBy = &approvedBy
		order.ApprovedAt = &now
		order.Items = rec.Items

		result = &ApprovalResult{
			Order:          order,
			Classification: rec.Classification,
			Restocked:      rec.Restocked,
		}
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.checkAdvisory(in, result)

	restocked := 0
	for _, units := range result.Restocked {
		restocked += units
	}
	s.metrics.OrderApproved(ctx, string(result.Classification))
	s.metrics.UnitsRestocked(ctx, restocked)
	span.SetAttributes(
		attribute.String("order.classification", string(result.Classification)),
		attribute.Int("order.restocked_units", restocked),
	)

	s.publishApproved(ctx, result)
	return result, nil
}

// SetStatus overrides an order status. It performs no stock movement.
func (s *Service) SetStatus(ctx context.Context, orderID string, status domain.OrderStatus, approvedBy *string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.SetStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status", string(status)),
		),
	)
	defer span.End()

	if orderID == "" {
		return nil, invalid("id", "is required")
	}
	if !status.Valid() {
		err := invalid("status", "unknown status %q", status)
		recordError(span, err)
		return nil, err
	}

	err := s.withinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.SetOrderStatus(ctx, orderID, status, nonEmpty(approvedBy), s.now()); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, s.audit("UPDATE", "orders",
			fmt.Sprintf("order %s status set to %s", orderID, status), nonEmpty(approvedBy)))
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	return s.GetOrder(ctx, orderID)
}

// GetOrder returns ErrOrderNotFound for an unknown id.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.repo.List(ctx, userID)
}

func (s *Service) ListOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	return s.repo.ListItems(ctx, orderID)
}

func (s *Service) ListItemsForOrders(ctx context.Context, orderIDs []string) ([]domain.OrderItem, error) {
	if len(orderIDs) == 0 {
		return []domain.OrderItem{}, nil
	}
	return s.repo.ListItemsForOrders(ctx, orderIDs)
}

func (s *Service) withinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()
	return s.repo.WithinTx(ctx, fn)
}

func (s *Service) findByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var order *domain.Order
	err := s.withinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		order, err = tx.FindOrderByIdempotencyKey(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, &StoreError{Op: "find order by idempotency key", Err: ErrDuplicateIdempotencyKey}
	}
	return order, nil
}

func (s *Service) checkAdvisory(in ApproveOrderInput, result *ApprovalResult) {
	if in.RequestedTotal != nil && !in.RequestedTotal.Equal(result.Order.Total) {
		s.logger.Warn("client total differs from derived total",
			"order_id", result.Order.ID,
			"client_total", in.RequestedTotal.String(),
			"derived_total", result.Order.Total.String(),
		)
	}
	if in.RequestedStatus != "" && in.RequestedStatus != string(result.Order.Status) {
		s.logger.Warn("client status differs from derived status",
			"order_id", result.Order.ID,
			"client_status", in.RequestedStatus,
			"derived_status", result.Order.Status,
		)
	}
}

func (s *Service) publishCreated(ctx context.Context, order *domain.Order) {
	if s.created == nil {
		return
	}
	event := domain.OrderCreatedEvent{
		OrderID:   order.ID,
		UserEmail: order.UserEmail,
		UserName:  order.UserName,
		Items:     order.Items,
		Total:     order.Total,
		Timestamp: order.CreatedAt,
	}
	if err := s.created.Publish(ctx, order.ID, event); err != nil {
		s.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
	}
}

func (s *Service) publishApproved(ctx context.Context, result *ApprovalResult) {
	if s.approved == nil {
		return
	}
	order := result.Order
	event := domain.OrderApprovedEvent{
		OrderID:        order.ID,
		UserEmail:      order.UserEmail,
		UserName:       order.UserName,
		Status:         order.Status,
		Classification: result.Classification,
		Items:          order.Items,
		Total:          order.Total,
		ApprovedBy:     *order.ApprovedBy,
		Timestamp:      *order.ApprovedAt,
	}
	if err := s.approved.Publish(ctx, order.ID, event); err != nil {
		s.logger.Error("failed to publish order approved event", "error", err, "order_id", order.ID)
	}
}

func (s *Service) audit(transType, table, action string, by *string) domain.AuditEntry {
	return domain.AuditEntry{
		ID:            uuid.New().String(),
		TransType:     transType,
		TransTable:    table,
		TransAction:   action,
		TransactionBy: by,
		CreatedAt:     s.now(),
	}
}

func validateApproval(in ApproveOrderInput) error {
	if strings.TrimSpace(in.OrderID) == "" {
		return invalid("id", "is required")
	}
	if strings.TrimSpace(in.ApprovedBy) == "" {
		return invalid("approved_by", "is required")
	}
	if len(in.Approvals) == 0 {
		return invalid("itemApprovals", "at least one approval is required")
	}
	for _, approval := range in.Approvals {
		if approval.OrderItemID == "" {
			return invalid("itemApprovals", "order_item_id is required")
		}
		if approval.ApprovedQuantity < 0 {
			return invalid("itemApprovals", "approved quantity for %q must not be negative", approval.OrderItemID)
		}
	}
	return nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
