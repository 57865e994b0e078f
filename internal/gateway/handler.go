package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

type Handler struct {
	ordersProxy  *ServiceProxy
	catalogProxy *ServiceProxy
	logger       *slog.Logger
}

func NewHandler(ordersProxy, catalogProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy:  ordersProxy,
		catalogProxy: catalogProxy,
		logger:       logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/orders", h.HandleOrders)
	mux.HandleFunc("/orders/", h.HandleOrders)
	mux.HandleFunc("/order-items", h.HandleOrders)
	mux.HandleFunc("/catalog/", h.HandleCatalog)
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

// HandleCatalog forwards /catalog/products/... to /products/... on the
// catalog service.
func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/catalog")
	if path == "" || path == "/" {
		h.writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.proxyRequest(w, r, h.catalogProxy, path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
