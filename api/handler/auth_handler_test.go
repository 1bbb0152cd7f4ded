package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"authcore/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		body   string
	}{
		{&service.ValidationError{Field: "email", Rule: "email"}, http.StatusBadRequest, "email"},
		{service.ErrDuplicateEmail, http.StatusConflict, "email already registered"},
		{service.ErrDuplicateUsername, http.StatusConflict, "username already taken"},
		{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
		{service.ErrTOTPInvalid, http.StatusUnauthorized, "invalid one-time code"},
		{service.ErrTokenExpired, http.StatusGone, "token expired"},
		{service.ErrTokenAlreadyUsed, http.StatusConflict, "token already used"},
		{service.ErrMFANotEnabled, http.StatusConflict, "mfa not enabled"},
		{service.ErrEmailNotConfirmed, http.StatusForbidden, "email not confirmed"},
		{service.ErrLockedAccount, http.StatusLocked, "account locked"},
		{service.ErrMFARequired, http.StatusPreconditionRequired, "mfa required"},
		{service.ErrUserNotFound, http.StatusNotFound, "user not found"},
		{fmt.Errorf("%w: connection refused", service.ErrStoreUnavailable), http.StatusServiceUnavailable, `"store unavailable"`},
		{errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			assert.NoError(t, writeServiceError(c, tt.err))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
			assert.NotContains(t, rec.Body.String(), "connection refused")
			assert.NotContains(t, rec.Body.String(), "boom")
		})
	}
}

func TestClientInfo(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "tests")
	c := e.NewContext(req, httptest.NewRecorder())

	info := clientInfo(c)
	if assert.NotNil(t, info.IPAddress) {
		assert.Equal(t, "192.0.2.1", *info.IPAddress)
	}
	if assert.NotNil(t, info.UserAgent) {
		assert.Equal(t, "tests", *info.UserAgent)
	}

	req.Header.Del("User-Agent")
	assert.Nil(t, clientInfo(c).UserAgent)
}
