package ledger_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scaffold-erp/internal/ledger"
	"github.com/odyssey-erp/scaffold-erp/internal/testing/memstore"
)

func newRouter(repo *memstore.Ledger) http.Handler {
	r := chi.NewRouter()
	r.Route("/ledger", ledger.NewHandler(nil, newService(repo, nil)).MountRoutes)
	return r
}

func TestHandlerCreateAndListEntries(t *testing.T) {
	repo := memstore.NewLedger()
	router := newRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/ledger/entries",
		strings.NewReader(`{"kind":"expense","amount":"42.50","description":"Gerüstmiete"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created ledger.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, ledger.KindExpense, created.Kind)
	require.Equal(t, "42.5", created.Amount.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ledger/entries?kind=expense", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list []ledger.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
}

func TestHandlerRejectsInvalidKind(t *testing.T) {
	router := newRouter(memstore.NewLedger())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ledger/entries",
		strings.NewReader(`{"kind":"transfer","amount":"1"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestHandlerRecomputeWithoutBaseline(t *testing.T) {
	router := newRouter(memstore.NewLedger())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ledger/balance/recompute", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var res ledger.RecomputeResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.True(t, res.Skipped)
}

func TestHandlerUnknownEntry(t *testing.T) {
	router := newRouter(memstore.NewLedger())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ledger/entries/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
