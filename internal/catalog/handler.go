package catalog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
)

type Handler struct {
	repo   Repository
	logger *slog.Logger
}

func NewHandler(repo Repository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /products", h.HandleListProducts)
	mux.HandleFunc("POST /products", h.HandleCreateProduct)
	mux.HandleFunc("GET /products/low-stock", h.HandleLowStock)
	mux.HandleFunc("GET /products/{id}", h.HandleGetProduct)
	mux.HandleFunc("PUT /products/{id}", h.HandleUpdateProduct)
	mux.HandleFunc("DELETE /products/{id}", h.HandleDeleteProduct)

	mux.HandleFunc("GET /categories", h.HandleListCategories)
	mux.HandleFunc("POST /categories", h.HandleCreateCategory)
	mux.HandleFunc("PUT /categories/{id}", h.HandleUpdateCategory)
	mux.HandleFunc("DELETE /categories/{id}", h.HandleDeleteCategory)
}

type productRequest struct {
	CategoryID        *string         `json:"category_id"`
	Name              string          `json:"name"`
	Description       *string         `json:"description"`
	SKU               string          `json:"sku"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity"`
	LowStockThreshold *int            `json:"low_stock_threshold"`
	ImageURL          *string         `json:"image_url"`
}

const defaultLowStockThreshold = 10

func (req productRequest) validate() string {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return "name is required"
	case strings.TrimSpace(req.SKU) == "":
		return "sku is required"
	case req.Price.IsNegative():
		return "price must not be negative"
	case req.StockQuantity < 0:
		return "stock_quantity must not be negative"
	case req.LowStockThreshold != nil && *req.LowStockThreshold < 0:
		return "low_stock_threshold must not be negative"
	}
	return ""
}

func (req productRequest) product(id string) *domain.Product {
	threshold := defaultLowStockThreshold
	if req.LowStockThreshold != nil {
		threshold = *req.LowStockThreshold
	}
	return &domain.Product{
		ID:                id,
		CategoryID:        trimmed(req.CategoryID),
		Name:              strings.TrimSpace(req.Name),
		Description:       trimmed(req.Description),
		SKU:               strings.TrimSpace(req.SKU),
		Price:             req.Price,
		StockQuantity:     req.StockQuantity,
		LowStockThreshold: threshold,
		ImageURL:          trimmed(req.ImageURL),
	}
}

func (h *Handler) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	categoryID := r.URL.Query().Get("category_id")

	products, err := h.repo.ListProducts(r.Context(), categoryID)
	if err != nil {
		h.logger.Error("failed to list products", "error", err, "category_id", categoryID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("products listed", "count", len(products), "category_id", categoryID)
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	product, err := h.repo.GetProduct(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) HandleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}

	product := req.product(uuid.New().String())
	if err := h.repo.CreateProduct(r.Context(), product); err != nil {
		h.handleWriteError(w, err, "product", "failed to create product", "sku", product.SKU)
		return
	}

	h.logger.Info("product created", "product_id", product.ID, "sku", product.SKU)
	h.writeJSON(w, http.StatusCreated, product)
}

func (h *Handler) HandleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}

	product := req.product(id)
	if err := h.repo.UpdateProduct(r.Context(), product); err != nil {
		h.handleWriteError(w, err, "product", "failed to update product", "product_id", id)
		return
	}

	h.logger.Info("product updated", "product_id", id, "stock_quantity", product.StockQuantity)
	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) HandleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.repo.DeleteProduct(r.Context(), id); err != nil {
		h.handleWriteError(w, err, "product", "failed to delete product", "product_id", id)
		return
	}

	h.logger.Info("product deleted", "product_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.ListLowStock(r.Context())
	if err != nil {
		h.logger.Error("failed to list low stock products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	report := domain.LowStockReport{Products: make([]domain.LowStockProduct, 0, len(products))}
	for _, p := range products {
		report.Products = append(report.Products, domain.LowStockProduct{
			ProductID:    p.ID,
			ProductName:  p.Name,
			CurrentStock: p.StockQuantity,
			Threshold:    p.LowStockThreshold,
		})
	}
	report.Count = len(report.Products)

	h.logger.Info("low stock report", "count", report.Count)
	h.writeJSON(w, http.StatusOK, report)
}

type categoryRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (h *Handler) HandleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.ListCategories(r.Context())
	if err != nil {
		h.logger.Error("failed to list categories", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) HandleCreateCategory(w http.ResponseWriter, r *http.Request) {
	category, ok := h.decodeCategory(w, r, uuid.New().String())
	if !ok {
		return
	}

	if err := h.repo.CreateCategory(r.Context(), category); err != nil {
		h.handleWriteError(w, err, "category", "failed to create category", "name", category.Name)
		return
	}

	h.logger.Info("category created", "category_id", category.ID)
	h.writeJSON(w, http.StatusCreated, category)
}

func (h *Handler) HandleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	category, ok := h.decodeCategory(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	if err := h.repo.UpdateCategory(r.Context(), category); err != nil {
		h.handleWriteError(w, err, "category", "failed to update category", "category_id", category.ID)
		return
	}

	h.logger.Info("category updated", "category_id", category.ID)
	h.writeJSON(w, http.StatusOK, category)
}

func (h *Handler) HandleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.repo.DeleteCategory(r.Context(), id); err != nil {
		h.handleWriteError(w, err, "category", "failed to delete category", "category_id", id)
		return
	}

	h.logger.Info("category deleted", "category_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeCategory(w http.ResponseWriter, r *http.Request, id string) (*domain.Category, bool) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return nil, false
	}
	return &domain.Category{
		ID:          id,
		Name:        strings.TrimSpace(req.Name),
		Description: trimmed(req.Description),
	}, true
}

func (h *Handler) handleWriteError(w http.ResponseWriter, err error, entity, msg string, args ...any) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, entity+" not found")
	case errors.Is(err, ErrInUse):
		h.writeError(w, http.StatusConflict, entity+" is "+ErrInUse.Error())
	case errors.Is(err, ErrDuplicate):
		h.writeError(w, http.StatusConflict, entity+" "+ErrDuplicate.Error())
	case errors.Is(err, ErrUnknownCategory):
		h.writeError(w, http.StatusBadRequest, ErrUnknownCategory.Error())
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

func trimmed(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
