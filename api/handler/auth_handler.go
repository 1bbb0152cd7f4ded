package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"authcore/api/middleware"
	"authcore/internal/dto"
	"authcore/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type AuthHandler struct {
	Service            *service.AuthService
	Validate           *validator.Validate
	RememberCookieName string
	CookieDomain       string
	SecureCookies      bool
	SameSite           http.SameSite
	ProfileTemplates   map[string]string
}

func NewAuthHandler(svc *service.AuthService, validate *validator.Validate) *AuthHandler {
	return &AuthHandler{
		Service:            svc,
		Validate:           validate,
		RememberCookieName: "remember_token",
		SecureCookies:      true,
		SameSite:           http.SameSiteStrictMode,
	}
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req dto.RegisterRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	user, err := h.Service.Register(c.Request().Context(), req)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.UserResponseFromEntity(user, h.ProfileTemplates))
}

func (h *AuthHandler) Confirm(c echo.Context) error {
	var req dto.TokenRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	user, err := h.Service.ConfirmEmail(c.Request().Context(), req.Token, clientInfo(c))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user, h.ProfileTemplates))
}

func (h *AuthHandler) ResendConfirmation(c echo.Context) error {
	var req dto.EmailRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.ResendConfirmation(c.Request().Context(), req.Email); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req dto.LoginRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	result, err := h.Service.Login(c.Request().Context(), req, clientInfo(c))
	if err != nil {
		return writeServiceError(c, err)
	}
	h.setRememberCookie(c, result)
	return c.JSON(http.StatusOK, result)
}

func (h *AuthHandler) LoginWithMFA(c echo.Context) error {
	var req dto.LoginMFARequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	result, err := h.Service.LoginWithMFA(c.Request().Context(), req, clientInfo(c))
	if err != nil {
		return writeServiceError(c, err)
	}
	h.setRememberCookie(c, result)
	return c.JSON(http.StatusOK, result)
}

func (h *AuthHandler) LoginWithRememberToken(c echo.Context) error {
	token := h.readRememberCookie(c)
	if token == "" {
		return writeError(c, http.StatusUnauthorized, errors.New("missing remember token"))
	}
	result, err := h.Service.RememberLogin(c.Request().Context(), token, clientInfo(c))
	if err != nil {
		if errors.Is(err, service.ErrTokenInvalid) || errors.Is(err, service.ErrTokenExpired) {
			h.clearRememberCookie(c)
		}
		return writeServiceError(c, err)
	}
	h.setRememberCookie(c, result)
	return c.JSON(http.StatusOK, result)
}

func (h *AuthHandler) Logout(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	if err := h.Service.Logout(c.Request().Context(), userID, h.readRememberCookie(c), clientInfo(c)); err != nil {
		return writeServiceError(c, err)
	}
	h.clearRememberCookie(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) LogoutAll(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	if err := h.Service.LogoutAll(c.Request().Context(), userID, clientInfo(c)); err != nil {
		return writeServiceError(c, err)
	}
	h.clearRememberCookie(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) PasswordForgot(c echo.Context) error {
	var req dto.EmailRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *AuthHandler) PasswordReset(c echo.Context) error {
	var req dto.PasswordResetRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.ResetPassword(c.Request().Context(), req, clientInfo(c)); err != nil {
		return writeServiceError(c, err)
	}
	h.clearRememberCookie(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) PasswordChange(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.ChangePasswordRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.ChangePassword(c.Request().Context(), userID, req, clientInfo(c)); err != nil {
		return writeServiceError(c, err)
	}
	h.clearRememberCookie(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) MFASetup(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	setup, err := h.Service.BeginMFASetup(c.Request().Context(), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.MFASetupResponse{Secret: setup.Secret, ProvisioningURI: setup.ProvisioningURI})
}

func (h *AuthHandler) MFAConfirm(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.MFACodeRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	codes, err := h.Service.ConfirmMFASetup(c.Request().Context(), userID, req.Code, clientInfo(c))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.BackupCodesResponse{BackupCodes: codes})
}

func (h *AuthHandler) MFADisable(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.MFACodeRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.DisableMFA(c.Request().Context(), userID, req.Code, clientInfo(c)); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) MFABackupCodes(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.MFACodeRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	codes, err := h.Service.RegenerateBackupCodes(c.Request().Context(), userID, req.Code, clientInfo(c))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.BackupCodesResponse{BackupCodes: codes})
}

func (h *AuthHandler) Me(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	user, err := h.Service.GetCurrentUser(c.Request().Context(), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user, h.ProfileTemplates))
}

func (h *AuthHandler) UpdatePreferences(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.UpdatePreferencesRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	user, err := h.Service.UpdatePreferences(c.Request().Context(), userID, req)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user, h.ProfileTemplates))
}

func (h *AuthHandler) SecurityEvents(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	events, err := h.Service.SecurityEvents(c.Request().Context(), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.SecurityEventsFromEntities(events))
}

func (h *AuthHandler) AdminListUsers(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	users, err := h.Service.ListUsers(c.Request().Context(), c.QueryParam("scope"), limit, offset)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponsesFromEntities(users, h.ProfileTemplates))
}

func (h *AuthHandler) AdminUnlockUser(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid user id"))
	}
	if err := h.Service.UnlockUser(c.Request().Context(), userID, clientInfo(c)); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) AdminDeleteUser(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid user id"))
	}
	if err := h.Service.DeleteAccount(c.Request().Context(), userID, clientInfo(c)); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) bind(c echo.Context, target any) error {
	if err := decodeJSON(c, target); err != nil {
		return err
	}
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(target)
}

func (h *AuthHandler) setRememberCookie(c echo.Context, result *dto.LoginResponse) {
	if result == nil || result.RememberToken == "" {
		return
	}
	maxAge := int(time.Until(result.RememberExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetCookie(&http.Cookie{
		Name:     h.RememberCookieName,
		Value:    result.RememberToken,
		Path:     "/auth",
		Domain:   h.CookieDomain,
		MaxAge:   maxAge,
		Expires:  result.RememberExpiresAt,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *AuthHandler) clearRememberCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     h.RememberCookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   h.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *AuthHandler) readRememberCookie(c echo.Context) string {
	cookie, err := c.Cookie(h.RememberCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"message": err.Error()})
}

func writeServiceError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrDuplicateEmail),
		errors.Is(err, service.ErrDuplicateProvider),
		errors.Is(err, service.ErrDuplicateUsername):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrTokenInvalid),
		errors.Is(err, service.ErrTOTPInvalid):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrTokenExpired):
		status = http.StatusGone
	case errors.Is(err, service.ErrTokenAlreadyUsed),
		errors.Is(err, service.ErrMFAAlreadyEnabled),
		errors.Is(err, service.ErrMFANotEnabled):
		status = http.StatusConflict
	case errors.Is(err, service.ErrEmailNotConfirmed):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrLockedAccount):
		status = http.StatusLocked
	case errors.Is(err, service.ErrMFARequired):
		status = http.StatusPreconditionRequired
	case errors.Is(err, service.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrStoreUnavailable):
		return writeError(c, http.StatusServiceUnavailable, service.ErrStoreUnavailable)
	default:
		c.Logger().Error(err)
		return writeError(c, status, errors.New("internal error"))
	}
	return writeError(c, status, err)
}

func clientInfo(c echo.Context) service.ClientInfo {
	return service.ClientInfo{
		IPAddress: stringPtr(c.RealIP()),
		UserAgent: stringPtr(c.Request().UserAgent()),
	}
}

func parseLimitOffset(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}

func stringPtr(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
