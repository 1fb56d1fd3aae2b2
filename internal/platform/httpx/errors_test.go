package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

func TestRespondErrorMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", shared.Validationf("stage %d out of range", 4), http.StatusBadRequest},
		{"not found", fmt.Errorf("invoice x: %w", shared.ErrNotFound), http.StatusNotFound},
		{"conflict", shared.Conflictf("notice already sent"), http.StatusConflict},
		{"permission", shared.ErrPermission, http.StatusForbidden},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestRespondErrorCarriesBlockReason(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &shared.PermissionError{Op: "dunning blocked for customer", Reason: "Ratenzahlung vereinbart"})

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Ratenzahlung vereinbart", body.Reason)
	require.Equal(t, http.StatusForbidden, body.Status)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Stage int `json:"stage"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"stage":1,"extra":true}`))
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)
}
