package invoices

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/scaffold-erp/internal/platform/httpx"
)

// Handler exposes read access to invoices.
type Handler struct {
	logger *slog.Logger
	repo   Repository
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, repo Repository) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.get)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	inv, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}
