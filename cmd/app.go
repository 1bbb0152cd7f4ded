package main

import (
	"errors"
	"fmt"
	"os"

	"authcore/config"
	"authcore/internal/mq"
	"authcore/internal/repository"
	"authcore/internal/service"
	"authcore/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// app holds the wired components shared by every command.
type app struct {
	db           *gorm.DB
	validate     *validator.Validate
	auth         *service.AuthService
	dispatcher   *service.Dispatcher
	accessTokens utils.TokenSigner
	closers      []func() error
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	switch cfg.Format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)
	return logger, nil
}

// newApp connects to the database and wires the auth core. Notifications go through an
// async dispatcher in front of mailer.
func newApp(cfg *config.Config, logger *logrus.Logger, mailer service.Mailer) (*app, error) {
	db, err := config.ConnectionDb(cfg.Database, gormlogger.Warn)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	users := repository.NewUserRepository(db)
	mfaSecrets := repository.NewMFASecretRepository(db)
	backupCodes := repository.NewBackupCodeRepository(db)
	verifications := repository.NewVerificationTokenRepository(db)
	rememberTokens := repository.NewRememberTokenRepository(db)
	securityLogs := repository.NewSecurityLogRepository(db)

	clock := service.RealClock{}
	validate := validator.New()
	hasher := service.UpgradingHasher{Primary: service.NewArgon2idHasher()}

	dispatcher := service.NewDispatcher(mailer, logger, cfg.Mail.QueueSize)
	dispatcher.Start(cfg.Mail.Workers)

	store, err := service.NewCredentialStore(users, hasher, validate, clock, cfg.Locales)
	if err != nil {
		return nil, err
	}
	policy := service.LockoutPolicy{
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Window:      cfg.Lockout.Window,
		Cooldown:    cfg.Lockout.Cooldown,
	}
	authenticator, err := service.NewAuthenticator(users, hasher, dispatcher, clock, policy, logger)
	if err != nil {
		return nil, err
	}

	primary, keys, err := cfg.OTP.KeyRing()
	if err != nil {
		return nil, err
	}
	box, err := service.NewSecretBox(primary, keys)
	if err != nil {
		return nil, err
	}
	twoFactor := service.NewTwoFactorManager(mfaSecrets, backupCodes, service.NewTOTPEngine(cfg.OTP.Issuer), box, clock)

	confirmations := service.NewConfirmationFlow(
		verifications,
		users,
		rememberTokens,
		store,
		dispatcher,
		clock,
		cfg.Tokens.ConfirmationTTL,
		cfg.Tokens.ResetTTL,
	)

	accessIssuer := service.JWTAccessIssuer{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.JWT.AccessTTL,
		Clock:  clock,
	}

	authService := service.NewAuthService(service.AuthDependencies{
		Store:         store,
		Authenticator: authenticator,
		TwoFactor:     twoFactor,
		Confirmations: confirmations,
		OAuth:         service.NewOAuthLinker(store, users, cfg.OAuth.PlaceholderDomain),
		Remember:      service.NewRememberManager(rememberTokens, users, clock, cfg.Tokens.RememberTTL),
		Users:         users,
		SecurityLogs:  securityLogs,
		AccessTokens:  accessIssuer,
		MFATokens: service.MFATokenIssuerJWT{
			Secret: []byte(cfg.JWT.MFASigningSecret()),
			Issuer: cfg.JWT.Issuer,
			TTL:    cfg.JWT.MFATTL,
			Clock:  clock,
		},
		Notifier: dispatcher,
		Clock:    clock,
		Logger:   logger,
	})

	return &app{
		db:           db,
		validate:     validate,
		auth:         authService,
		dispatcher:   dispatcher,
		accessTokens: accessIssuer.Signer(),
	}, nil
}

// Close drains queued notifications before closing the mail transport and the database.
func (a *app) Close() error {
	a.dispatcher.Close()
	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	if sqlDB, err := a.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}

// newMailer returns the mailer for the configured driver and a closer for its transport.
func newMailer(cfg *config.Config, logger *logrus.Logger) (service.Mailer, func() error, error) {
	switch cfg.Mail.Driver {
	case config.MailDriverResend:
		return service.NewResendMailer(cfg.Mail.ResendAPIKey, cfg.Mail.From, cfg.Mail.AppBaseURL), nil, nil
	case config.MailDriverRabbitMQ:
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, nil, fmt.Errorf("rabbitmq: %w", err)
		}
		return mq.NewNotificationPublisher(client, cfg.RabbitMQ.Queue), client.Close, nil
	default:
		return service.LogMailer{Logger: logger}, nil, nil
	}
}
