package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
)

type emailRecorder struct {
	mu     sync.Mutex
	sent   []emailMessage
	status int
}

func (e *emailRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		var msg emailMessage
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		e.mu.Lock()
		e.sent = append(e.sent, msg)
		status := e.status
		e.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (e *emailRecorder) messages() []emailMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emailMessage(nil), e.sent...)
}

func catalogServer(t *testing.T, report domain.LowStockReport, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/low-stock", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createdEvent() domain.OrderCreatedEvent {
	return domain.OrderCreatedEvent{
		OrderID:   "order-1",
		UserEmail: "buyer@agency.gov",
		UserName:  "Procurement Office",
		Items: []domain.OrderItem{
			{ProductID: "p1", Quantity: 7, Price: decimal.RequireFromString("19.90"), Product: &domain.ProductSummary{Name: "Toner"}},
			{ProductID: "p2", Quantity: 1, Price: decimal.RequireFromString("5")},
		},
		Total: decimal.RequireFromString("144.30"),
	}
}

func TestNotificationHandler_HandleOrderCreated(t *testing.T) {
	t.Run("sends confirmation and low stock alert", func(t *testing.T) {
		emails := &emailRecorder{}
		catalog := catalogServer(t, domain.LowStockReport{Count: 2, Products: []domain.LowStockProduct{
			{ProductID: "p1", ProductName: "Toner", CurrentStock: 3, Threshold: 5},
			{ProductID: "p9", ProductName: "Unrelated", CurrentStock: 0, Threshold: 5},
		}}, http.StatusOK)

		h := NewNotificationHandler(emails.server(t).URL, catalog.URL, "admin@agency.gov", http.DefaultClient, testLogger())
		require.NoError(t, h.HandleOrderCreated(context.Background(), createdEvent()))

		sent := emails.messages()
		require.Len(t, sent, 2)

		assert.Equal(t, "buyer@agency.gov", sent[0].To)
		assert.Equal(t, "Order Received: order-1", sent[0].Subject)
		assert.Contains(t, sent[0].Body, "Toner x 7 @ 19.90")
		assert.Contains(t, sent[0].Body, "p2 x 1 @ 5.00")
		assert.Contains(t, sent[0].Body, "Total: 144.30")

		assert.Equal(t, "admin@agency.gov", sent[1].To)
		assert.Equal(t, "Low Stock Alert: 1 product(s)", sent[1].Subject)
		assert.Contains(t, sent[1].Body, "Toner (p1): 3 left, threshold 5")
		assert.NotContains(t, sent[1].Body, "Unrelated")
	})

	t.Run("no alert when ordered products are not low", func(t *testing.T) {
		emails := &emailRecorder{}
		catalog := catalogServer(t, domain.LowStockReport{}, http.StatusOK)

		h := NewNotificationHandler(emails.server(t).URL, catalog.URL, "admin@agency.gov", http.DefaultClient, testLogger())
		require.NoError(t, h.HandleOrderCreated(context.Background(), createdEvent()))

		assert.Len(t, emails.messages(), 1)
	})

	t.Run("no admin email skips the stock check", func(t *testing.T) {
		emails := &emailRecorder{}
		h := NewNotificationHandler(emails.server(t).URL, "http://localhost:1", "", http.DefaultClient, testLogger())

		require.NoError(t, h.HandleOrderCreated(context.Background(), createdEvent()))
		assert.Len(t, emails.messages(), 1)
	})

	t.Run("catalog failure does not fail the event", func(t *testing.T) {
		emails := &emailRecorder{}
		catalog := catalogServer(t, domain.LowStockReport{}, http.StatusInternalServerError)

		h := NewNotificationHandler(emails.server(t).URL, catalog.URL, "admin@agency.gov", http.DefaultClient, testLogger())
		require.NoError(t, h.HandleOrderCreated(context.Background(), createdEvent()))
		assert.Len(t, emails.messages(), 1)
	})

	t.Run("email failure is returned", func(t *testing.T) {
		emails := &emailRecorder{status: http.StatusBadGateway}
		h := NewNotificationHandler(emails.server(t).URL, "http://unused", "", http.DefaultClient, testLogger())

		err := h.HandleOrderCreated(context.Background(), createdEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 502")
	})
}

func TestNotificationHandler_HandleOrderApproved(t *testing.T) {
	four := 4

	tests := []struct {
		name           string
		classification domain.Classification
		subject        string
	}{
		{name: "fully approved", classification: domain.FullyApproved, subject: "Order Approved: order-1"},
		{name: "partially approved", classification: domain.PartiallyApproved, subject: "Order Partially Approved: order-1"},
		{name: "all rejected", classification: domain.AllRejected, subject: "Order Rejected: order-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emails := &emailRecorder{}
			h := NewNotificationHandler(emails.server(t).URL, "http://unused", "", http.DefaultClient, testLogger())

			event := domain.OrderApprovedEvent{
				OrderID:        "order-1",
				UserEmail:      "buyer@agency.gov",
				UserName:       "Procurement Office",
				Status:         domain.OrderStatusProcessing,
				Classification: tt.classification,
				Items: []domain.OrderItem{
					{ProductID: "p1", Quantity: 7, ApprovedQuantity: &four, Price: decimal.RequireFromString("19.90")},
				},
				Total:      decimal.RequireFromString("79.60"),
				ApprovedBy: "admin",
			}
			require.NoError(t, h.HandleOrderApproved(context.Background(), event))

			sent := emails.messages()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.subject, sent[0].Subject)
			assert.Equal(t, "buyer@agency.gov", sent[0].To)
			assert.Contains(t, sent[0].Body, "p1: 4 of 7 approved")
			assert.Contains(t, sent[0].Body, "Total: 79.60")
		})
	}
}
