package dunning_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scaffold-erp/internal/dunning"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/httpx"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

type memoryGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (g *memoryGuard) CheckAndInsert(ctx context.Context, key, module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	g.keys[key] = true
	return nil
}

func (g *memoryGuard) Delete(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}

func newTestRouter(f fixture, guard dunning.IdempotencyGuard) http.Handler {
	r := chi.NewRouter()
	r.Route("/dunning", dunning.NewHandler(nil, f.svc, guard).MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCreateNotice(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f, nil)

	rr := do(t, router, http.MethodPost, "/dunning", `{"invoice_id":"inv-1","stage":1}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var n dunning.Notice
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &n))
	require.Equal(t, "1195", n.TotalClaim.String())

	rr = do(t, router, http.MethodGet, "/dunning/"+n.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, router, http.MethodGet, "/dunning?status=pending_approval", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []dunning.Notice
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
}

func TestHandlerBlockedCustomerReturnsReason(t *testing.T) {
	f := newFixture(t)
	f.invoices.SetCustomerDunning("cust-1", false, "Ratenzahlung vereinbart")
	router := newTestRouter(f, nil)

	rr := do(t, router, http.MethodPost, "/dunning", `{"invoice_id":"inv-1","stage":1}`)
	require.Equal(t, http.StatusForbidden, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "Ratenzahlung vereinbart", problem.Reason)
}

func TestHandlerValidation(t *testing.T) {
	router := newTestRouter(newFixture(t), nil)

	rr := do(t, router, http.MethodPost, "/dunning", `{"invoice_id":"inv-1","stage":5}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/dunning/batch/decision", `{"ids":["a"],"decision":"reject"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerSendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n, err := f.svc.CreateFirstNotice(ctx, "inv-1", 1, dunning.Overrides{})
	require.NoError(t, err)
	guard := &memoryGuard{keys: map[string]bool{}}
	router := newTestRouter(f, guard)

	rr := do(t, router, http.MethodPost, "/dunning/"+n.ID+"/send", `{"channel":"pdf_download"}`, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusConflict, rr.Code, "not yet approved")
	require.Empty(t, guard.keys, "failed sends release the key")

	rr = do(t, router, http.MethodPost, "/dunning/"+n.ID+"/decision", `{"decision":"approve"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodPost, "/dunning/"+n.ID+"/send", `{"channel":"pdf_download"}`, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodPost, "/dunning/"+n.ID+"/send", `{"channel":"pdf_download"}`, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerDeleteSentNotice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := f.sentNotice(t, ctx, "inv-1")
	router := newTestRouter(f, nil)

	rr := do(t, router, http.MethodDelete, "/dunning/"+n.ID, "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, http.MethodGet, "/dunning/overdue-invoices", "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHandlerBatchSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.invoices.SetCustomerEmail("cust-1", "rechnung@bau.example")
	f.invoices.Put(openInvoice("inv-2", "RE-2026-0002", "cust-1"))
	approved, err := f.svc.CreateFirstNotice(ctx, "inv-1", 1, dunning.Overrides{})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, approved.ID)
	require.NoError(t, err)
	pending, err := f.svc.CreateFirstNotice(ctx, "inv-2", 1, dunning.Overrides{})
	require.NoError(t, err)
	router := newTestRouter(f, &memoryGuard{keys: map[string]bool{}})

	body := `{"ids":["` + approved.ID + `","` + pending.ID + `"],"channel":"email"}`
	rr := do(t, router, http.MethodPost, "/dunning/batch/send", body, "Idempotency-Key", "batch-1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res dunning.BatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Equal(t, []string{approved.ID}, res.Succeeded)
	require.Contains(t, res.Failed, pending.ID)
	require.Len(t, f.notifier.deliveries, 1)

	rr = do(t, router, http.MethodPost, "/dunning/batch/send", body, "Idempotency-Key", "batch-1")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, http.MethodPost, "/dunning/batch/send", `{"ids":[],"channel":"email"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
