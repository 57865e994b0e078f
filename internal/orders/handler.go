package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the order routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /orders", h.HandleList)
	mux.HandleFunc("POST /orders", h.HandleCreate)
	mux.HandleFunc("GET /orders/{id}", h.HandleGet)
	mux.HandleFunc("GET /orders/{id}/items", h.HandleListItems)
	mux.HandleFunc("POST /orders/{id}/approve", h.HandleApprove)
	mux.HandleFunc("PATCH /orders/{id}/status", h.HandleUpdateStatus)
	mux.HandleFunc("PUT /orders/{id}/status", h.HandleUpdateStatus)
	mux.HandleFunc("GET /order-items", h.HandleBulkItems)
}

type createOrderResponse struct {
	ID    string        `json:"id"`
	Order *domain.Order `json:"order"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		h.handleError(w, err, "failed to create order")
		return
	}

	h.logger.Info("order created", "order_id", order.ID, "user_email", order.UserEmail, "total", order.Total.String())
	h.writeJSON(w, http.StatusCreated, createOrderResponse{ID: order.ID, Order: order})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "failed to get order", "id", id)
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

type approveOrderRequest struct {
	ItemApprovals []ItemApproval   `json:"itemApprovals"`
	Status        string           `json:"status"`
	ApprovedBy    string           `json:"approved_by"`
	NewTotal      *decimal.Decimal `json:"new_total"`
}

type approveOrderResponse struct {
	Success        bool                  `json:"success"`
	NewTotal       decimal.Decimal       `json:"new_total"`
	Status         domain.OrderStatus    `json:"status"`
	Classification domain.Classification `json:"classification"`
	Order          *domain.Order         `json:"order"`
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req approveOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.ApproveOrder(r.Context(), ApproveOrderInput{
		OrderID:         id,
		Approvals:       req.ItemApprovals,
		ApprovedBy:      req.ApprovedBy,
		RequestedStatus: req.Status,
		RequestedTotal:  req.NewTotal,
	})
	if err != nil {
		h.handleError(w, err, "failed to approve order", "id", id)
		return
	}

	h.logger.Info("order approved",
		"order_id", result.Order.ID,
		"classification", result.Classification,
		"status", result.Order.Status,
		"total", result.Order.Total.String(),
	)
	h.writeJSON(w, http.StatusOK, approveOrderResponse{
		Success:        true,
		NewTotal:       result.Order.Total,
		Status:         result.Order.Status,
		Classification: result.Classification,
		Order:          result.Order,
	})
}

type updateStatusRequest struct {
	Status     domain.OrderStatus `json:"status"`
	ApprovedBy *string            `json:"approved_by"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.SetStatus(r.Context(), id, req.Status, req.ApprovedBy)
	if err != nil {
		h.handleError(w, err, "failed to update order status", "id", id)
		return
	}

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		h.handleError(w, err, "failed to list orders")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	items, err := h.service.ListOrderItems(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "failed to list order items", "id", id)
		return
	}

	h.logger.Info("order items listed", "order_id", id, "count", len(items))
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleBulkItems(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("order_ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	items, err := h.service.ListItemsForOrders(r.Context(), ids)
	if err != nil {
		h.handleError(w, err, "failed to list items for orders")
		return
	}

	h.logger.Info("bulk order items listed", "orders", len(ids), "count", len(items))
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleError(w http.ResponseWriter, err error, msg string, args ...any) {
	var (
		validationErr *ValidationError
		stockErr      *InsufficientStockError
	)

	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &stockErr):
		h.writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient stock",
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.Is(err, ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, ErrProductNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOrderNotPending):
		h.writeError(w, http.StatusConflict, err.Error())
	case IsTransient(err):
		h.logger.Error(msg, append([]any{"error", err}, args...)...)
		h.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		h.logger.Error(msg, append([]any{"error", err}, args...)...)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
