package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace/auth-service/internal/service"

	"github.com/stretchr/testify/require"
)

func TestToHTTP_Mapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"nil -> internal", nil, http.StatusInternalServerError, "internal"},
		{"bad request", ErrBadRequest, http.StatusBadRequest, "invalid_argument"},
		{"invalid email", service.ErrInvalidEmail, http.StatusBadRequest, "invalid_argument"},
		{"weak password", service.ErrWeakPassword, http.StatusBadRequest, "invalid_argument"},
		{"empty password", service.ErrEmptyPassword, http.StatusBadRequest, "invalid_argument"},
		{"email taken", service.ErrEmailTaken, http.StatusConflict, "already_exists"},
		{"invalid credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, "unauthenticated"},
		{"invalid token", service.ErrInvalidToken, http.StatusUnauthorized, "unauthenticated"},
		{"token expired", service.ErrTokenExpired, http.StatusUnauthorized, "unauthenticated"},
		{"stale token version", service.ErrStaleTokenVersion, http.StatusUnauthorized, "unauthenticated"},
		{"session not found", service.ErrSessionNotFound, http.StatusUnauthorized, "unauthenticated"},
		{"session expired", service.ErrSessionExpired, http.StatusUnauthorized, "unauthenticated"},
		{"session revoked", service.ErrSessionRevoked, http.StatusUnauthorized, "unauthenticated"},
		{"canceled", context.Canceled, StatusClientClosedRequest, "canceled"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded"},
		{"internal", ErrInternal, http.StatusInternalServerError, "internal"},
		{"refresh collision", service.ErrRefreshCollision, http.StatusInternalServerError, "internal"},
		// Сбой хранилища не маскируется под 401: клиенту безопасно повторить.
		{"unknown -> unavailable", fmt.Errorf("db down"), http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			status, resp := ToHTTP(tc.err)
			require.Equal(t, tc.wantStatus, status)
			require.Equal(t, tc.wantCode, resp.Error.Code)
			require.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestToHTTP_WrappedErrorsUnwrap(t *testing.T) {
	t.Parallel()

	// Сервис всегда оборачивает ошибки через %w — маппинг обязан видеть цепочку.
	wrapped := fmt.Errorf("service.refresh.RefreshSession: %w", service.ErrSessionNotFound)

	status, resp := ToHTTP(wrapped)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthenticated", resp.Error.Code)
}

func TestWriteError_PropagatesRequestID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()

	WriteError(rec, req, service.ErrInvalidCredentials)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "unauthenticated", resp.Error.Code)
	require.Equal(t, "req-42", resp.Error.RequestID)
}

func TestWriteBadRequest_And_Unauthenticated(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)

	rec := httptest.NewRecorder()
	WriteBadRequest(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	WriteUnauthenticated(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
