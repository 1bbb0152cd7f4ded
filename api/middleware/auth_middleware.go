package middleware

import (
	"net/http"
	"strings"

	"authcore/internal/utils"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware admits requests bearing an access token. MFA challenge tokens are signed
// for a different purpose and are refused here.
type AuthMiddleware struct {
	Tokens utils.TokenSigner
}

func (m AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := bearerToken(c.Request())
		if !ok {
			return unauthorized(c)
		}
		claims, err := m.Tokens.Parse(raw, utils.PurposeAccess)
		if err != nil {
			return unauthorized(c)
		}
		userID, err := claims.UserID()
		if err != nil {
			return unauthorized(c)
		}
		SetPrincipal(c, Principal{UserID: userID, Role: claims.Role, TokenID: claims.ID})
		return next(c)
	}
}

func unauthorized(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="authcore"`)
	return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get(echo.HeaderAuthorization), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
