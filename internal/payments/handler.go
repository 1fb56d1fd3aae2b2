package payments

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/invoices"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/httpx"
)

// Handler exposes the invoice status endpoint.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	validator   *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, coordinator *Coordinator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, coordinator: coordinator, validator: httpx.NewValidator()}
}

// MountRoutes registers the status route on the invoices router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{id}/status", h.setStatus)
}

type statusRequest struct {
	Status     invoices.Status  `json:"status" validate:"required,oneof=paid open cancelled partially_paid"`
	PaidAt     *time.Time       `json:"paid_at"`
	PaidAmount *decimal.Decimal `json:"paid_amount"`
	Note       string           `json:"note" validate:"max=1000"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.coordinator.SetStatus(r.Context(), chi.URLParam(r, "id"), StatusChange(req))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}
