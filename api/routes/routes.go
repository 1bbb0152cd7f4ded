package routes

import (
	"time"

	"authcore/api/handler"
	"authcore/api/middleware"
	"authcore/internal/service"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type Router struct {
	Echo           *echo.Echo
	Auth           *handler.AuthHandler
	AuthMiddleware middleware.AuthMiddleware
	AuthRate       *middleware.RateLimiter
	LoginRate      *middleware.RateLimiter
}

func NewRouter(e *echo.Echo, authHandler *handler.AuthHandler, authMiddleware middleware.AuthMiddleware) *Router {
	return &Router{
		Echo:           e,
		Auth:           authHandler,
		AuthMiddleware: authMiddleware,
		AuthRate:       middleware.NewRateLimiter(rate.Limit(5), 10, 5*time.Minute),
		LoginRate:      middleware.NewRateLimiter(rate.Limit(2), 4, 10*time.Minute),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo
	requireAuth := r.AuthMiddleware.RequireAuth
	requireAdmin := middleware.RequireRole(service.RoleAdmin)

	auth := e.Group("/auth")
	auth.POST("/register", r.Auth.Register, r.AuthRate.Middleware())
	auth.POST("/confirmation", r.Auth.Confirm, r.AuthRate.Middleware())
	auth.POST("/confirmation/resend", r.Auth.ResendConfirmation, r.LoginRate.Middleware())
	auth.POST("/login", r.Auth.Login, r.LoginRate.Middleware())
	auth.POST("/login/mfa", r.Auth.LoginWithMFA, r.LoginRate.Middleware())
	auth.POST("/login/remember", r.Auth.LoginWithRememberToken, r.AuthRate.Middleware())
	auth.POST("/logout", r.Auth.Logout, requireAuth)
	auth.POST("/logout-all", r.Auth.LogoutAll, requireAuth)
	auth.POST("/password/forgot", r.Auth.PasswordForgot, r.LoginRate.Middleware())
	auth.POST("/password/reset", r.Auth.PasswordReset, r.AuthRate.Middleware())
	auth.POST("/password/change", r.Auth.PasswordChange, requireAuth, r.LoginRate.Middleware())
	auth.POST("/mfa/setup", r.Auth.MFASetup, requireAuth)
	auth.POST("/mfa/confirm", r.Auth.MFAConfirm, requireAuth, r.LoginRate.Middleware())
	auth.POST("/mfa/disable", r.Auth.MFADisable, requireAuth, r.LoginRate.Middleware())
	auth.POST("/mfa/backup-codes", r.Auth.MFABackupCodes, requireAuth)

	e.GET("/me", r.Auth.Me, requireAuth)
	e.PATCH("/me/preferences", r.Auth.UpdatePreferences, requireAuth)
	e.GET("/me/security-events", r.Auth.SecurityEvents, requireAuth)

	admin := e.Group("/admin", requireAuth, requireAdmin)
	admin.GET("/users", r.Auth.AdminListUsers)
	admin.POST("/users/:id/unlock", r.Auth.AdminUnlockUser)
	admin.DELETE("/users/:id", r.Auth.AdminDeleteUser)
}
