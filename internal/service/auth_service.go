package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"authcore/internal/dto"
	"authcore/internal/entity"
	"authcore/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const securityLogLimit = 50

// AuthDependencies groups the components AuthService orchestrates.
type AuthDependencies struct {
	Store         *CredentialStore
	Authenticator *Authenticator
	TwoFactor     *TwoFactorManager
	Confirmations *ConfirmationFlow
	OAuth         *OAuthLinker
	Remember      *RememberManager

	Users        repository.UserRepository
	SecurityLogs repository.SecurityLogRepository

	AccessTokens AccessTokenIssuer
	MFATokens    MFATokenIssuer
	Notifier     Notifier
	Clock        Clock
	Logger       logrus.FieldLogger
}

// AuthService is the entry point for the application layer. A login only produces an
// access token once the password (or provider) and, when enabled, the second factor
// have both succeeded.
type AuthService struct {
	store         *CredentialStore
	auth          *Authenticator
	twoFactor     *TwoFactorManager
	confirmations *ConfirmationFlow
	oauth         *OAuthLinker
	remember      *RememberManager

	users        repository.UserRepository
	securityLogs repository.SecurityLogRepository

	accessTokens AccessTokenIssuer
	mfaTokens    MFATokenIssuer
	notifier     Notifier
	clock        Clock
	logger       logrus.FieldLogger
}

func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthService{
		store:         deps.Store,
		auth:          deps.Authenticator,
		twoFactor:     deps.TwoFactor,
		confirmations: deps.Confirmations,
		oauth:         deps.OAuth,
		remember:      deps.Remember,
		users:         deps.Users,
		securityLogs:  deps.SecurityLogs,
		accessTokens:  deps.AccessTokens,
		mfaTokens:     deps.MFATokens,
		notifier:      deps.Notifier,
		clock:         deps.Clock,
		logger:        logger,
	}
}

func (s *AuthService) Register(ctx context.Context, input dto.RegisterRequest) (*entity.User, error) {
	user, err := s.store.CreateUser(ctx, NewUserInput{
		Email:    input.Email,
		Password: input.Password,
		Locale:   input.Locale,
		Account: AccountAttributes{
			Username:    strings.TrimSpace(input.Username),
			DisplayName: strings.TrimSpace(input.DisplayName),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := s.confirmations.SendConfirmationInstructions(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ConfirmEmail spends a confirmation token. Reusing a spent token returns the user again.
func (s *AuthService) ConfirmEmail(ctx context.Context, token string, client ClientInfo) (*entity.User, error) {
	user, err := s.confirmations.ConsumeToken(ctx, token, entity.Confirmation)
	if err != nil {
		return nil, err
	}
	s.logSecurity(ctx, &user.ID, client.IPAddress, entity.EmailConfirmed, nil)
	return user, nil
}

// ResendConfirmation is silent for unknown or already confirmed emails.
func (s *AuthService) ResendConfirmation(ctx context.Context, email string) error {
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	return s.confirmations.SendConfirmationInstructions(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, input dto.LoginRequest, client ClientInfo) (*dto.LoginResponse, error) {
	result, err := s.auth.Authenticate(ctx, input.Email, input.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrLockedAccount) {
			s.logSecurity(ctx, nil, client.IPAddress, entity.LoginFailed, map[string]any{
				"email":  strings.ToLower(strings.TrimSpace(input.Email)),
				"reason": err.Error(),
			})
		}
		return nil, err
	}
	if result.TwoFactorRequired {
		return s.challenge(result.User)
	}
	return s.completeLogin(ctx, result.User, input.RememberMe, client, map[string]any{"method": "password"})
}

// LoginWithMFA finishes a login that Login answered with an MFA challenge. Failed codes
// count towards the lockout like failed passwords.
func (s *AuthService) LoginWithMFA(ctx context.Context, input dto.LoginMFARequest, client ClientInfo) (*dto.LoginResponse, error) {
	userID, err := s.mfaTokens.ParseMFAToken(input.MFAToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrTokenInvalid
	}
	if s.auth.Status(user) == LockStatusLocked {
		return nil, ErrLockedAccount
	}

	usedBackup, err := s.twoFactor.VerifySecondFactor(ctx, user.ID, input.Code)
	if err != nil {
		return nil, s.secondFactorFailed(ctx, user, client, err)
	}
	if usedBackup {
		s.logSecurity(ctx, &user.ID, client.IPAddress, entity.BackupCodeUsed, nil)
	}
	return s.completeLogin(ctx, user, input.RememberMe, client, map[string]any{"method": "password", "mfa": true})
}

// LoginWithOAuth signs in the user linked to identity, creating one on first login.
func (s *AuthService) LoginWithOAuth(ctx context.Context, identity OAuthIdentity, rememberMe bool, client ClientInfo) (*dto.LoginResponse, error) {
	user, err := s.oauth.FindOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}
	if s.auth.Status(user) == LockStatusLocked {
		return nil, ErrLockedAccount
	}
	if user.SignInCount == 0 {
		s.logSecurity(ctx, &user.ID, client.IPAddress, entity.OAuthLinked, map[string]any{"provider": *user.Provider})
	}
	if user.TwoFactorEnabled() {
		return s.challenge(user)
	}
	return s.completeLogin(ctx, user, rememberMe, client, map[string]any{"method": "oauth", "provider": *user.Provider})
}

// RememberLogin signs in with a remember-me token and hands back its replacement.
// The token is only rotated for users allowed to sign in, so a locked account keeps it for
// after the cooldown.
func (s *AuthService) RememberLogin(ctx context.Context, token string, client ClientInfo) (*dto.LoginResponse, error) {
	current, err := s.remember.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.auth.Status(current) == LockStatusLocked {
		return nil, ErrLockedAccount
	}
	if !current.IsConfirmed() {
		return nil, ErrEmailNotConfirmed
	}
	user, next, expiresAt, err := s.remember.Rotate(ctx, token)
	if err != nil {
		return nil, err
	}
	response, err := s.issueAccess(user)
	if err != nil {
		return nil, err
	}
	response.RememberToken = next
	response.RememberExpiresAt = expiresAt
	if err := s.users.TrackSignIn(ctx, user.ID, client.IPAddress, nowFrom(s.clock)); err != nil {
		return nil, err
	}
	s.logSecurity(ctx, &user.ID, client.IPAddress, entity.RememberRotated, nil)
	return response, nil
}

// Logout forgets rememberToken. Access tokens stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID, rememberToken string, client ClientInfo) error {
	if err := s.remember.Revoke(ctx, rememberToken); err != nil {
		return err
	}
	s.logSecurity(ctx, &userID, client.IPAddress, entity.Logout, nil)
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID, client ClientInfo) error {
	if err := s.remember.RevokeAll(ctx, userID); err != nil {
		return err
	}
	s.logSecurity(ctx, &userID, client.IPAddress, entity.SessionsRevoked, map[string]any{"scope": "all"})
	return nil
}

func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	return s.confirmations.RequestPasswordReset(ctx, email)
}

func (s *AuthService) ResetPassword(ctx context.Context, input dto.PasswordResetRequest, client ClientInfo) error {
	user, err := s.confirmations.ResetPassword(ctx, input.Token, input.NewPassword)
	if err != nil {
		return err
	}
	s.logSecurity(ctx, &user.ID, client.IPAddress, entity.Reset, nil)
	return nil
}

// ChangePassword requires the current password and signs out every remembered device.
// A wrong current password counts towards the lockout.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, input dto.ChangePasswordRequest, client ClientInfo) error {
	user, err := s.GetCurrentUser(ctx, userID)
	if err != nil {
		return err
	}
	if s.auth.Status(user) == LockStatusLocked {
		return ErrLockedAccount
	}
	if !s.store.VerifyPassword(user, input.CurrentPassword) {
		if err := s.auth.recordFailure(ctx, user); err != nil {
			return err
		}
		s.logSecurity(ctx, &user.ID, client.IPAddress, entity.LoginFailed, map[string]any{"reason": "password_change"})
		return ErrInvalidCredentials
	}
	if err := s.store.SetPassword(ctx, user.ID, input.NewPassword); err != nil {
		return err
	}
	if err := s.remember.RevokeAll(ctx, user.ID); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, PasswordChange(user))
	}
	s.logSecurity(ctx, &user.ID, client.IPAddress, entity.PasswordChanged, nil)
	return nil
}

func (s *AuthService) BeginMFASetup(ctx context.Context, userID uuid.UUID) (*TwoFactorSetup, error) {
	user, err := s.GetCurrentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.twoFactor.BeginSetup(ctx, user)
}

func (s *AuthService) ConfirmMFASetup(ctx context.Context, userID uuid.UUID, code string, client ClientInfo) ([]string, error) {
	codes, err := s.twoFactor.ConfirmSetup(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	s.logSecurity(ctx, &userID, client.IPAddress, entity.MFAEnabled, nil)
	return codes, nil
}

// DisableMFA needs a fresh second factor. Wrong codes count towards the lockout.
func (s *AuthService) DisableMFA(ctx context.Context, userID uuid.UUID, code string, client ClientInfo) error {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.twoFactor.Disable(ctx, user.ID, code); err != nil {
		return s.secondFactorFailed(ctx, user, client, err)
	}
	s.logSecurity(ctx, &userID, client.IPAddress, entity.MFADisabled, nil)
	return nil
}

// RegenerateBackupCodes needs a fresh second factor. Wrong codes count towards the lockout.
func (s *AuthService) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID, code string, client ClientInfo) ([]string, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	codes, err := s.twoFactor.RegenerateBackupCodes(ctx, user.ID, code)
	if err != nil {
		return nil, s.secondFactorFailed(ctx, user, client, err)
	}
	s.logSecurity(ctx, &userID, client.IPAddress, entity.BackupCodesRegenerated, nil)
	return codes, nil
}

func (s *AuthService) activeUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	user, err := s.GetCurrentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.auth.Status(user) == LockStatusLocked {
		return nil, ErrLockedAccount
	}
	return user, nil
}

// secondFactorFailed records a rejected code against the lockout and passes err on.
func (s *AuthService) secondFactorFailed(ctx context.Context, user *entity.User, client ClientInfo, err error) error {
	if !errors.Is(err, ErrTOTPInvalid) && !errors.Is(err, ErrTokenAlreadyUsed) {
		return err
	}
	if recordErr := s.auth.recordFailure(ctx, user); recordErr != nil {
		return recordErr
	}
	s.logSecurity(ctx, &user.ID, client.IPAddress, entity.MFAFailed, nil)
	return err
}

func (s *AuthService) GetCurrentUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) UpdatePreferences(ctx context.Context, userID uuid.UUID, input dto.UpdatePreferencesRequest) (*entity.User, error) {
	return s.store.UpdatePreferences(ctx, userID, PreferencesInput{
		DefaultPrivacy: input.DefaultPrivacy,
		BoostModal:     input.BoostModal,
		AutoPlayGif:    input.AutoPlayGif,
		HideOAuth:      input.HideOAuth,
	})
}

func (s *AuthService) SecurityEvents(ctx context.Context, userID uuid.UUID) ([]entity.SecurityLog, error) {
	return s.securityLogs.ListByUser(ctx, userID, securityLogLimit)
}

// ListUsers pages through users. scope is empty or one of recent, admins, confirmed.
func (s *AuthService) ListUsers(ctx context.Context, scope string, limit, offset int) ([]entity.User, error) {
	var scopes []func(*gorm.DB) *gorm.DB
	switch scope {
	case "":
	case "recent":
		scopes = append(scopes, repository.Recent)
	case "admins":
		scopes = append(scopes, repository.Admins)
	case "confirmed":
		scopes = append(scopes, repository.Confirmed)
	default:
		return nil, &ValidationError{Field: "scope", Rule: "oneof"}
	}
	return s.users.List(ctx, limit, offset, scopes...)
}

func (s *AuthService) UnlockUser(ctx context.Context, userID uuid.UUID, client ClientInfo) error {
	if err := s.auth.Unlock(ctx, userID); err != nil {
		return err
	}
	s.logSecurity(ctx, &userID, client.IPAddress, entity.AccountUnlocked, nil)
	return nil
}

func (s *AuthService) UnlockUserByEmail(ctx context.Context, email string, client ClientInfo) error {
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	return s.UnlockUser(ctx, user.ID, client)
}

// DeleteAccount removes the user, its account and everything they own. Earlier security
// log rows are kept with their user reference cleared.
func (s *AuthService) DeleteAccount(ctx context.Context, userID uuid.UUID, client ClientInfo) error {
	if _, err := s.GetCurrentUser(ctx, userID); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.logSecurity(ctx, nil, client.IPAddress, entity.AccountDeleted, map[string]any{"user_id": userID.String()})
	return nil
}

func (s *AuthService) RotateOTPSecrets(ctx context.Context) (int, error) {
	return s.twoFactor.RotateSecrets(ctx)
}

func (s *AuthService) CleanupRememberTokens(ctx context.Context) (int64, error) {
	return s.remember.CleanupExpired(ctx)
}

func (s *AuthService) CleanupVerificationTokens(ctx context.Context) (int64, error) {
	return s.confirmations.PurgeExpired(ctx)
}

func (s *AuthService) challenge(user *entity.User) (*dto.LoginResponse, error) {
	mfaToken, expiresIn, err := s.mfaTokens.IssueMFAToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &dto.LoginResponse{
		MFARequired:       true,
		MFAToken:          mfaToken,
		MFATokenExpiresIn: int64(expiresIn.Seconds()),
	}, nil
}

func (s *AuthService) completeLogin(
	ctx context.Context,
	user *entity.User,
	rememberMe bool,
	client ClientInfo,
	metadata map[string]any,
) (*dto.LoginResponse, error) {

	response, err := s.issueAccess(user)
	if err != nil {
		return nil, err
	}
	if rememberMe {
		token, expiresAt, err := s.remember.Issue(ctx, user, client)
		if err != nil {
			return nil, err
		}
		response.RememberToken = token
		response.RememberExpiresAt = expiresAt
	}
	if err := s.users.TrackSignIn(ctx, user.ID, client.IPAddress, nowFrom(s.clock)); err != nil {
		return nil, err
	}
	s.logSecurity(ctx, &user.ID, client.IPAddress, entity.LoginSuccess, metadata)
	return response, nil
}

func (s *AuthService) issueAccess(user *entity.User) (*dto.LoginResponse, error) {
	accessToken, expiresIn, err := s.accessTokens.IssueAccessToken(*user)
	if err != nil {
		return nil, err
	}
	return &dto.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(expiresIn.Seconds()),
	}, nil
}

// logSecurity records an audit row. Failures are logged and never fail the request.
func (s *AuthService) logSecurity(
	ctx context.Context,
	userID *uuid.UUID,
	ipAddress *string,
	action entity.SecurityAction,
	metadata map[string]any,
) {
	if s.securityLogs == nil {
		return
	}
	var payload datatypes.JSON
	if metadata != nil {
		bytes, err := json.Marshal(metadata)
		if err != nil {
			s.logger.WithError(err).WithField("action", action).Warn("security log metadata")
			return
		}
		payload = datatypes.JSON(bytes)
	}

	log := &entity.SecurityLog{
		UserID:    userID,
		IPAddress: ipAddress,
		Action:    action,
		Metadata:  payload,
	}
	if err := s.securityLogs.Log(ctx, log); err != nil {
		s.logger.WithError(err).WithField("action", action).Warn("security log write failed")
	}
}
