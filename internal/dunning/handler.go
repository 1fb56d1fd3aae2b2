package dunning

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/platform/httpx"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// IdempotencyGuard records processed request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the dunning endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	validator   *httpx.Validator
	idempotency IdempotencyGuard
}

// NewHandler builds Handler instance. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyGuard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator(), idempotency: idempotency}
}

// MountRoutes registers dunning routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/follow-up", h.followUp)
	r.Get("/overdue-invoices", h.overdue)
	r.Post("/batch/decision", h.batchDecision)
	r.Post("/batch/send", h.batchSend)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.detail)
		r.Put("/", h.update)
		r.Delete("/", h.delete)
		r.Post("/decision", h.decision)
		r.Post("/send", h.send)
		r.Post("/cancel", h.cancel)
	})
}

type createRequest struct {
	InvoiceID string           `json:"invoice_id" validate:"required"`
	Stage     int              `json:"stage" validate:"required,min=1,max=3"`
	Fee       *decimal.Decimal `json:"fee"`
	Interest  *decimal.Decimal `json:"interest"`
	TermDays  *int             `json:"term_days" validate:"omitempty,min=1"`
	Body      string           `json:"body"`
}

type followUpRequest struct {
	ParentID string `json:"parent_id" validate:"required"`
}

type updateRequest struct {
	Body     *string          `json:"body"`
	Status   *Status          `json:"status"`
	Notes    *string          `json:"notes"`
	Fee      *decimal.Decimal `json:"fee"`
	Interest *decimal.Decimal `json:"interest"`
}

type decisionRequest struct {
	Decision      Decision `json:"decision" validate:"required,oneof=approve reject"`
	Reason        string   `json:"reason" validate:"required_if=Decision reject"`
	BlockCustomer bool     `json:"block_customer"`
}

type batchDecisionRequest struct {
	IDs           []string `json:"ids" validate:"required,min=1,dive,required"`
	Decision      Decision `json:"decision" validate:"required,oneof=approve reject"`
	Reason        string   `json:"reason" validate:"required_if=Decision reject"`
	BlockCustomer bool     `json:"block_customer"`
}

type sendRequest struct {
	Channel   Channel `json:"channel" validate:"required,oneof=email pdf_download"`
	Recipient string  `json:"recipient" validate:"omitempty,email"`
}

type batchSendRequest struct {
	IDs       []string `json:"ids" validate:"required,min=1,dive,required"`
	Channel   Channel  `json:"channel" validate:"required,oneof=email pdf_download"`
	Recipient string   `json:"recipient" validate:"omitempty,email"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.service.CreateFirstNotice(r.Context(), req.InvoiceID, req.Stage, Overrides{
		Fee:      req.Fee,
		Interest: req.Interest,
		TermDays: req.TermDays,
		Body:     req.Body,
	})
	if err != nil {
		h.logFailure("create dunning notice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, n)
}

func (h *Handler) followUp(w http.ResponseWriter, r *http.Request) {
	var req followUpRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.service.CreateFollowUpNotice(r.Context(), req.ParentID)
	if err != nil {
		h.logFailure("create follow-up notice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, n)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{
		Status:     Status(q.Get("status")),
		CustomerID: q.Get("customer_id"),
		ProjectID:  q.Get("project_id"),
		InvoiceID:  q.Get("invoice_id"),
		Approval:   ApprovalStatus(q.Get("approval")),
	}
	if raw := q.Get("stage"); raw != "" {
		stage, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.Validationf("stage must be an integer"))
			return
		}
		f.Stage = stage
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.Validationf("limit must be an integer"))
			return
		}
		f.Limit = limit
	}
	notices, err := h.service.List(r.Context(), f)
	if err != nil {
		h.logFailure("list dunning notices", err)
		httpx.RespondError(w, err)
		return
	}
	if notices == nil {
		notices = []Notice{}
	}
	httpx.JSON(w, http.StatusOK, notices)
}

func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, shared.Validationf("as_of must be YYYY-MM-DD"))
			return
		}
		asOf = t
	}
	out, err := h.service.OverdueCandidates(r.Context(), asOf)
	if err != nil {
		h.logFailure("list overdue invoices", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Detail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure("load dunning notice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.service.UpdateNotice(r.Context(), chi.URLParam(r, "id"), NoticePatch(req))
	if err != nil {
		h.logFailure("update dunning notice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteNotice(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.logFailure("delete dunning notice", err)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.service.Decide(r.Context(), chi.URLParam(r, "id"), DecisionInput(req))
	if err != nil {
		h.logFailure("decide dunning notice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

func (h *Handler) batchDecision(w http.ResponseWriter, r *http.Request) {
	var req batchDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.BatchDecide(r.Context(), req.IDs, DecisionInput{
		Decision:      req.Decision,
		Reason:        req.Reason,
		BlockCustomer: req.BlockCustomer,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// reserveKey records the Idempotency-Key header of a send. It reports false
// when the response has already been written.
func (h *Handler) reserveKey(w http.ResponseWriter, r *http.Request, module string) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idempotency == nil {
		return "", true
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "request already processed")
			return "", false
		}
		h.logFailure("idempotency check", err)
		httpx.RespondError(w, err)
		return "", false
	}
	return key, true
}

// releaseKey frees a reserved key so a failed request can be retried.
func (h *Handler) releaseKey(r *http.Request, key string) {
	if key == "" {
		return
	}
	if err := h.idempotency.Delete(context.WithoutCancel(r.Context()), key); err != nil {
		h.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, ok := h.reserveKey(w, r, "dunning.send")
	if !ok {
		return
	}
	n, err := h.service.Send(r.Context(), chi.URLParam(r, "id"), SendInput(req))
	if err != nil {
		h.releaseKey(r, key)
		h.logFailure("send dunning notice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

func (h *Handler) batchSend(w http.ResponseWriter, r *http.Request) {
	var req batchSendRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, ok := h.reserveKey(w, r, "dunning.batch_send")
	if !ok {
		return
	}
	res, err := h.service.BatchSend(r.Context(), req.IDs, SendInput{Channel: req.Channel, Recipient: req.Recipient})
	if err != nil {
		h.releaseKey(r, key)
		h.logFailure("batch send dunning notices", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	n, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.logFailure("cancel dunning notice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

// logFailure logs unexpected failures; domain rejections are answered without noise.
func (h *Handler) logFailure(op string, err error) {
	if errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrConflict) || errors.Is(err, shared.ErrPermission) {
		h.logger.Debug(op, slog.Any("error", err))
		return
	}
	h.logger.Error(op, slog.Any("error", err))
}
