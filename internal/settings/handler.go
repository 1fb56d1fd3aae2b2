package settings

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/platform/httpx"
)

// Handler exposes the dunning settings endpoints.
type Handler struct {
	logger    *slog.Logger
	resolver  *Resolver
	validator *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resolver *Resolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver, validator: httpx.NewValidator()}
}

// MountRoutes registers settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dunning", h.get)
	r.Put("/dunning", h.put)
}

type settingsRequest struct {
	Fees         []decimal.Decimal `json:"fees" validate:"len=3"`
	TermDays     []int             `json:"term_days" validate:"len=3,dive,gte=0"`
	InterestRate decimal.Decimal   `json:"interest_rate"`
	Texts        []string          `json:"texts" validate:"omitempty,len=3"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	s, err := h.resolver.Current(r.Context())
	if err != nil {
		h.logger.Error("load dunning settings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, s)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var s DunningSettings
	copy(s.Fees[:], req.Fees)
	copy(s.TermDays[:], req.TermDays)
	copy(s.Texts[:], req.Texts)
	s.InterestRate = req.InterestRate
	saved, err := h.resolver.Save(r.Context(), s)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}
