package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrilink-io/agrilink/internal/auth"
	"github.com/agrilink-io/agrilink/internal/model"
	"github.com/agrilink-io/agrilink/internal/negotiation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func withClaims(r *http.Request, role model.PartyRole) *http.Request {
	claims := &auth.Claims{PartyID: uuid.New(), Role: role}
	return r.WithContext(context.WithValue(r.Context(), contextKeyClaims, claims))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	// A caller-supplied request ID is propagated, not replaced.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "caller-id", seen)
}

func TestRequireRole(t *testing.T) {
	handler := requireRole(model.RoleCoordinator, model.RoleFactory)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), model.RoleCoordinator))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), model.RoleFarm))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// No claims at all.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(discardLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), model.ErrCodeInternalError)
}

func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{negotiation.ErrValidation, http.StatusBadRequest, model.ErrCodeInvalidInput},
		{negotiation.ErrNotFound, http.StatusNotFound, model.ErrCodeNotFound},
		{negotiation.ErrAuthorization, http.StatusForbidden, model.ErrCodeForbidden},
		{negotiation.ErrInvalidTransition, http.StatusConflict, model.ErrCodeInvalidTransition},
		{negotiation.ErrExpired, http.StatusConflict, model.ErrCodeExpired},
		{negotiation.ErrConflict, http.StatusConflict, model.ErrCodeConflict},
		{negotiation.ErrExternalDependency, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput},
		{fmt.Errorf("pool exhausted"), http.StatusInternalServerError, model.ErrCodeInternalError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), discardLogger(),
			fmt.Errorf("wrapped: %w", tc.err))
		assert.Equal(t, tc.status, rec.Code, "error %v", tc.err)
		assert.Contains(t, rec.Body.String(), tc.code, "error %v", tc.err)
	}
}

func TestWriteDomainErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), discardLogger(),
		fmt.Errorf("storage: connect to 10.0.0.5 failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target model.CreateEngagementRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"target_id":"`+uuid.New().String()+`","bogus":1}`))

	err := decodeJSON(httptest.NewRecorder(), req, &target, 1024)
	require.Error(t, err)
}

func TestDecodeJSONEnforcesBodyCap(t *testing.T) {
	var target map[string]any
	body := `{"k":"` + strings.Repeat("x", 4096) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	rec := httptest.NewRecorder()
	err := decodeJSON(rec, req, &target, 64)
	require.Error(t, err)

	handleDecodeError(rec, req, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
