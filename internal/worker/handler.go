package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
)

// NotificationHandler turns order events into emails: a confirmation to the
// buyer on checkout, an outcome notice after approval, and a low stock
// alert to the administrators when a checkout left products at or below
// their threshold.
type NotificationHandler struct {
	emailServiceURL   string
	catalogServiceURL string
	adminEmail        string
	httpClient        *http.Client
	logger            *slog.Logger
}

func NewNotificationHandler(emailServiceURL, catalogServiceURL, adminEmail string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL:   emailServiceURL,
		catalogServiceURL: catalogServiceURL,
		adminEmail:        adminEmail,
		httpClient:        client,
		logger:            logger,
	}
}

type emailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) HandleOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	h.logger.Info("processing order created event", "order_id", event.OrderID, "user_email", event.UserEmail)

	if err := h.sendEmail(ctx, confirmationEmail(event)); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}

	if h.adminEmail == "" {
		return nil
	}

	// The order is already confirmed at this point, so a failed stock
	// check is logged rather than retried.
	if err := h.alertLowStock(ctx, event); err != nil {
		h.logger.Error("failed to check low stock", "error", err, "order_id", event.OrderID)
	}

	h.logger.Info("order created notifications sent", "order_id", event.OrderID)
	return nil
}

func (h *NotificationHandler) HandleOrderApproved(ctx context.Context, event domain.OrderApprovedEvent) error {
	h.logger.Info("processing order approved event",
		"order_id", event.OrderID,
		"classification", event.Classification,
		"status", event.Status,
	)

	if err := h.sendEmail(ctx, approvalEmail(event)); err != nil {
		return fmt.Errorf("send approval email: %w", err)
	}

	h.logger.Info("order approval notification sent", "order_id", event.OrderID)
	return nil
}

func (h *NotificationHandler) alertLowStock(ctx context.Context, event domain.OrderCreatedEvent) error {
	report, err := h.lowStockReport(ctx)
	if err != nil {
		return err
	}

	ordered := make(map[string]bool, len(event.Items))
	for _, item := range event.Items {
		ordered[item.ProductID] = true
	}

	var affected []domain.LowStockProduct
	for _, p := range report.Products {
		if ordered[p.ProductID] {
			affected = append(affected, p)
		}
	}
	if len(affected) == 0 {
		return nil
	}

	h.logger.Warn("low stock after order", "order_id", event.OrderID, "products", len(affected))
	return h.sendEmail(ctx, lowStockEmail(h.adminEmail, event.OrderID, affected))
}

func (h *NotificationHandler) lowStockReport(ctx context.Context) (*domain.LowStockReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.catalogServiceURL+"/products/low-stock", nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog service returned status %d", resp.StatusCode)
	}

	var report domain.LowStockReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode low stock report: %w", err)
	}

	return &report, nil
}

func (h *NotificationHandler) sendEmail(ctx context.Context, msg emailMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}

func confirmationEmail(event domain.OrderCreatedEvent) emailMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nWe received your order %s. It is pending approval.\n\n", event.UserName, event.OrderID)
	for _, item := range event.Items {
		fmt.Fprintf(&b, "- %s x %d @ %s\n", itemLabel(item), item.Quantity, item.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", event.Total.StringFixed(2))

	return emailMessage{
		To:      event.UserEmail,
		Subject: "Order Received: " + event.OrderID,
		Body:    b.String(),
	}
}

func approvalEmail(event domain.OrderApprovedEvent) emailMessage {
	var subject, intro string
	switch event.Classification {
	case domain.AllRejected:
		subject = "Order Rejected: "
		intro = "none of the items in your order could be approved"
	case domain.PartiallyApproved:
		subject = "Order Partially Approved: "
		intro = "your order was approved with reduced quantities"
	default:
		subject = "Order Approved: "
		intro = "your order was approved in full"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nOrder %s: %s.\n\n", event.UserName, event.OrderID, intro)
	for _, item := range event.Items {
		fmt.Fprintf(&b, "- %s: %d of %d approved\n", itemLabel(item), item.EffectiveQuantity(), item.Quantity)
	}
	fmt.Fprintf(&b, "\nTotal: %s\nStatus: %s\n", event.Total.StringFixed(2), event.Status)

	return emailMessage{
		To:      event.UserEmail,
		Subject: subject + event.OrderID,
		Body:    b.String(),
	}
}

func lowStockEmail(to, orderID string, products []domain.LowStockProduct) emailMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s left %d product(s) at or below their stock threshold:\n\n", orderID, len(products))
	for _, p := range products {
		fmt.Fprintf(&b, "- %s (%s): %d left, threshold %d\n", p.ProductName, p.ProductID, p.CurrentStock, p.Threshold)
	}

	return emailMessage{
		To:      to,
		Subject: fmt.Sprintf("Low Stock Alert: %d product(s)", len(products)),
		Body:    b.String(),
	}
}

func itemLabel(item domain.OrderItem) string {
	if item.Product != nil && item.Product.Name != "" {
		return item.Product.Name
	}
	return item.ProductID
}
