package email

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Handler is a stand-in mail relay. It validates and logs messages instead
// of delivering them.
type Handler struct {
	latency func() time.Duration
	sent    metric.Int64Counter
	logger  *slog.Logger
}

type Option func(*Handler)

// WithLatency replaces the simulated delivery latency.
func WithLatency(latency func() time.Duration) Option {
	return func(h *Handler) {
		h.latency = latency
	}
}

func NewHandler(logger *slog.Logger, opts ...Option) (*Handler, error) {
	sent, err := otel.Meter("storefront/email").Int64Counter("emails.sent",
		metric.WithDescription("Emails accepted by the relay, by kind"),
	)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		latency: func() time.Duration { return time.Duration(50+rand.IntN(151)) * time.Millisecond },
		sent:    sent,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addr, err := mail.ParseAddress(req.To)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient address")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	select {
	case <-time.After(h.latency()):
	case <-r.Context().Done():
		return
	}

	h.sent.Add(r.Context(), 1, metric.WithAttributes(attribute.String("kind", kind(req.Subject))))
	h.logger.Info("email sent", "to", addr.Address, "subject", req.Subject, "body_bytes", len(req.Body))

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

// kind is the subject prefix before the first colon, e.g. "Order Approved".
func kind(subject string) string {
	prefix, _, _ := strings.Cut(subject, ":")
	return strings.TrimSpace(prefix)
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
