package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awecode/awecount-sub001/internal/shared"
)

func TestRespondErrorCoded(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &shared.Error{
		Code:     shared.CodeFIFOInconsistency,
		Message:  "later consumers drew from lot 4",
		Override: shared.OverrideFIFOInconsistency,
		Details:  map[string]any{"lot": 4},
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, string(shared.CodeFIFOInconsistency), body.Type)
	require.Equal(t, shared.OverrideFIFOInconsistency, body.Override)
	require.Equal(t, "later consumers drew from lot 4", body.Detail)
}

func TestRespondErrorHidesUncoded(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("dial tcp 10.0.0.1: refused"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "10.0.0.1")
}

func TestStatusOf(t *testing.T) {
	cases := map[shared.Code]int{
		shared.CodeValidation:        http.StatusBadRequest,
		shared.CodeNotFound:          http.StatusNotFound,
		shared.CodeInvalidTransition: http.StatusConflict,
		shared.CodeInsufficientStock: http.StatusConflict,
		shared.CodePostingImbalance:  http.StatusUnprocessableEntity,
		"other":                      http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, StatusOf(code), code)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		CompanyID int64 `json:"company_id"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"company_id":1,"extra":true}`))
	require.ErrorIs(t, DecodeJSON(r, &target), shared.ErrValidation)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"company_id":1}`))
	require.NoError(t, DecodeJSON(r, &target))
	require.Equal(t, int64(1), target.CompanyID)
}
