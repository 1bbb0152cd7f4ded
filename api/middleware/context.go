package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const principalKey = "authcore.principal"

// Principal is the caller an access token was issued to.
type Principal struct {
	UserID  uuid.UUID
	Role    string
	TokenID string
}

func SetPrincipal(c echo.Context, p Principal) {
	c.Set(principalKey, p)
}

func PrincipalFrom(c echo.Context) (Principal, bool) {
	p, ok := c.Get(principalKey).(Principal)
	return p, ok && p.UserID != uuid.Nil
}

func UserIDFromContext(c echo.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFrom(c)
	return p.UserID, ok
}
