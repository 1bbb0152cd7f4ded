package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"authcore/api/handler"
	apiMiddleware "authcore/api/middleware"
	"authcore/api/routes"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const tokenCleanupInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mailer, closeMailer, err := newMailer(cfg, logger)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, mailer)
	if err != nil {
		if closeMailer != nil {
			_ = closeMailer()
		}
		return err
	}
	if closeMailer != nil {
		a.closers = append(a.closers, closeMailer)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("shutdown")
		}
	}()

	authHandler := handler.NewAuthHandler(a.auth, a.validate)
	authHandler.CookieDomain = cfg.HTTP.CookieDomain
	authHandler.SecureCookies = cfg.HTTP.SecureCookies
	authHandler.ProfileTemplates = cfg.OAuth.ProfileURLs

	trustedProxies, err := cfg.HTTP.TrustedProxyRanges()
	if err != nil {
		return err
	}

	e := echo.New()
	e.IPExtractor = apiMiddleware.ClientIPExtractor(trustedProxies)
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Env == "development"
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status": v.Status,
				"method": v.Method,
				"uri":    v.URI,
				"ip":     v.RemoteIP,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))

	authMiddleware := apiMiddleware.AuthMiddleware{Tokens: a.accessTokens}
	router := routes.NewRouter(e, authHandler, authMiddleware)
	router.RegisterRoutes()

	go sweepTokens(ctx, a)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTP.Addr).Info("server started")
		errCh <- e.StartServer(server)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("server stopping")
	return e.Shutdown(shutdownCtx)
}

func sweepTokens(ctx context.Context, a *app) {
	ticker := time.NewTicker(tokenCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.auth.CleanupRememberTokens(ctx)
			if err != nil {
				logger.WithError(err).Warn("remember token cleanup failed")
			} else {
				logger.WithField("removed", removed).Debug("remember token cleanup")
			}
			purged, err := a.auth.CleanupVerificationTokens(ctx)
			if err != nil {
				logger.WithError(err).Warn("verification token cleanup failed")
				continue
			}
			logger.WithField("removed", purged).Debug("verification token cleanup")
		}
	}
}
