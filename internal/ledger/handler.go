package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/platform/httpx"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// Handler exposes ledger entries, snapshots and recomputation over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/entries", func(r chi.Router) {
		r.Get("/", h.listEntries)
		r.Post("/", h.createEntry)
		r.Get("/{id}", h.getEntry)
		r.Put("/{id}", h.updateEntry)
		r.Delete("/{id}", h.deleteEntry)
		r.Post("/{id}/cancel", h.cancelEntry)
	})
	r.Get("/snapshots", h.listSnapshots)
	r.Post("/snapshots", h.createSnapshot)
	r.Post("/balance/recompute", h.recompute)
}

type entryRequest struct {
	ScopeID     string           `json:"scope_id"`
	Kind        Kind             `json:"kind" validate:"required,oneof=income expense"`
	Amount      decimal.Decimal  `json:"amount"`
	NetAmount   *decimal.Decimal `json:"net_amount"`
	Tax         *decimal.Decimal `json:"tax"`
	BookedAt    time.Time        `json:"booked_at"`
	CategoryID  string           `json:"category_id"`
	Category    string           `json:"category_name"`
	Description string           `json:"description" validate:"max=500"`
}

type entryPatchRequest struct {
	Kind        *Kind            `json:"kind" validate:"omitempty,oneof=income expense"`
	Amount      *decimal.Decimal `json:"amount"`
	BookedAt    *time.Time       `json:"booked_at"`
	Description *string          `json:"description"`
	CategoryID  *string          `json:"category_id"`
}

type cancelRequest struct {
	Note string `json:"note"`
}

type snapshotRequest struct {
	ScopeID string          `json:"scope_id"`
	Amount  decimal.Decimal `json:"amount"`
	TakenAt time.Time       `json:"taken_at"`
	Note    string          `json:"note"`
}

type recomputeRequest struct {
	ScopeID string `json:"scope_id"`
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := EntryFilter{
		ScopeID:   q.Get("scope_id"),
		Kind:      Kind(q.Get("kind")),
		Status:    EntryStatus(q.Get("status")),
		InvoiceID: q.Get("invoice_id"),
	}
	var err error
	if filter.From, err = parseDate(q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = parseDate(q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 0 {
			httpx.RespondError(w, shared.Validationf("limit must be a non-negative integer"))
			return
		}
	}
	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		h.logger.Error("list ledger entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.Validationf("invalid date %q", raw)
	}
	return t, nil
}

func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.CreateEntry(r.Context(), EntryInput{
		ScopeID:      req.ScopeID,
		Kind:         req.Kind,
		Amount:       req.Amount,
		NetAmount:    req.NetAmount,
		Tax:          req.Tax,
		BookedAt:     req.BookedAt,
		CategoryID:   req.CategoryID,
		CategoryName: req.Category,
		Description:  req.Description,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) updateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryPatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.UpdateEntry(r.Context(), chi.URLParam(r, "id"), EntryPatch{
		Kind:        req.Kind,
		Amount:      req.Amount,
		BookedAt:    req.BookedAt,
		Description: req.Description,
		CategoryID:  req.CategoryID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelEntry(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	entry, err := h.service.CancelEntry(r.Context(), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil {
			httpx.RespondError(w, shared.Validationf("limit must be an integer"))
			return
		}
	}
	snaps, err := h.service.ListSnapshots(r.Context(), r.URL.Query().Get("scope_id"), limit)
	if err != nil {
		h.logger.Error("list balance snapshots", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snaps)
}

func (h *Handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	snap, err := h.service.CreateManualSnapshot(r.Context(), SnapshotInput(req))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, snap)
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	res, err := h.service.RecomputeBalance(r.Context(), req.ScopeID)
	if err != nil {
		h.logger.Error("recompute balance", slog.String("scope", req.ScopeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}
