package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrderMetrics holds the instruments recorded by the order workflow.
type OrderMetrics struct {
	created           metric.Int64Counter
	approved          metric.Int64Counter
	reservationFailed metric.Int64Counter
	restocked         metric.Int64Counter
}

// NewOrderMetrics registers the instruments on the global MeterProvider.
// Without InitMeterProvider the global provider is a no-op.
func NewOrderMetrics() (*OrderMetrics, error) {
	meter := otel.Meter("storefront/orders")

	created, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders created at checkout"),
	)
	if err != nil {
		return nil, err
	}

	approved, err := meter.Int64Counter("orders.approved",
		metric.WithDescription("Orders approved, by classification"),
	)
	if err != nil {
		return nil, err
	}

	reservationFailed, err := meter.Int64Counter("stock.reservation.rejected",
		metric.WithDescription("Checkouts rejected for insufficient stock"),
	)
	if err != nil {
		return nil, err
	}

	restocked, err := meter.Int64Counter("stock.restocked",
		metric.WithDescription("Units returned to stock by approvals"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	return &OrderMetrics{
		created:           created,
		approved:          approved,
		reservationFailed: reservationFailed,
		restocked:         restocked,
	}, nil
}

func (m *OrderMetrics) OrderCreated(ctx context.Context) {
	m.created.Add(ctx, 1)
}

func (m *OrderMetrics) OrderApproved(ctx context.Context, classification string) {
	m.approved.Add(ctx, 1, metric.WithAttributes(attribute.String("classification", classification)))
}

func (m *OrderMetrics) ReservationRejected(ctx context.Context) {
	m.reservationFailed.Add(ctx, 1)
}

func (m *OrderMetrics) UnitsRestocked(ctx context.Context, units int) {
	if units <= 0 {
		return
	}
	m.restocked.Add(ctx, int64(units))
}
