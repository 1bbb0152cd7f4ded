package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"authcore/internal/entity"
	"authcore/internal/repository"
	"authcore/internal/utils"

	"github.com/google/uuid"
)

const (
	DefaultConfirmationTTL = 24 * time.Hour
	DefaultResetTTL        = 30 * time.Minute
	verificationTokenBytes = 32

	// expired tokens are kept this long so late clicks still read as expired
	verificationTokenRetention = 7 * 24 * time.Hour
)

// ConfirmationFlow runs the confirmation and password reset token lifecycles. A token goes
// from issued to consumed or expired; only its sha256 digest is stored.
type ConfirmationFlow struct {
	tokens          repository.VerificationTokenRepository
	users           repository.UserRepository
	remember        repository.RememberTokenRepository
	store           *CredentialStore
	notifier        Notifier
	clock           Clock
	confirmationTTL time.Duration
	resetTTL        time.Duration
}

func NewConfirmationFlow(
	tokens repository.VerificationTokenRepository,
	users repository.UserRepository,
	remember repository.RememberTokenRepository,
	store *CredentialStore,
	notifier Notifier,
	clock Clock,
	confirmationTTL time.Duration,
	resetTTL time.Duration,
) *ConfirmationFlow {
	if confirmationTTL <= 0 {
		confirmationTTL = DefaultConfirmationTTL
	}
	if resetTTL <= 0 {
		resetTTL = DefaultResetTTL
	}
	return &ConfirmationFlow{
		tokens:          tokens,
		users:           users,
		remember:        remember,
		store:           store,
		notifier:        notifier,
		clock:           clock,
		confirmationTTL: confirmationTTL,
		resetTTL:        resetTTL,
	}
}

// IssueToken expires any pending token of the same purpose and returns the raw token.
func (f *ConfirmationFlow) IssueToken(ctx context.Context, user *entity.User, purpose entity.VerificationType) (string, time.Time, error) {
	token, err := utils.NewOpaqueToken(verificationTokenBytes)
	if err != nil {
		return "", time.Time{}, err
	}
	now := nowFrom(f.clock)
	if _, err := f.tokens.ExpirePending(ctx, user.ID, purpose, now); err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(f.ttl(purpose))
	record := &entity.VerificationToken{
		UserID:    user.ID,
		TokenHash: token.Digest,
		Type:      purpose,
		ExpiresAt: expiresAt,
	}
	if err := f.tokens.Create(ctx, record); err != nil {
		return "", time.Time{}, err
	}
	return token.Raw, expiresAt, nil
}

// ConsumeToken spends a token and returns its user. A confirmation token that was already
// spent returns the confirmed user again. For other purposes expiry is reported before
// reuse.
func (f *ConfirmationFlow) ConsumeToken(ctx context.Context, raw string, purpose entity.VerificationType) (*entity.User, error) {
	token, err := f.lookup(ctx, raw, purpose)
	if err != nil {
		return nil, err
	}
	now := nowFrom(f.clock)

	if purpose == entity.Confirmation {
		if token.UsedAt == nil {
			if expired(token, now) {
				return nil, ErrTokenExpired
			}
			consumed, err := f.tokens.ConsumeConfirmation(ctx, token.ID, token.UserID, now)
			if err != nil {
				return nil, err
			}
			if !consumed {
				if err := f.refused(ctx, token, now); !errors.Is(err, ErrTokenAlreadyUsed) {
					return nil, err
				}
			}
		}
		return f.loadUser(ctx, token.UserID)
	}

	if err := checkPending(token, now); err != nil {
		return nil, err
	}
	consumed, err := f.tokens.MarkUsed(ctx, token.ID, now)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, f.refused(ctx, token, now)
	}
	return f.loadUser(ctx, token.UserID)
}

// SendConfirmationInstructions issues a confirmation token and queues the mail. Confirmed
// users are skipped.
func (f *ConfirmationFlow) SendConfirmationInstructions(ctx context.Context, user *entity.User) error {
	if user.IsConfirmed() {
		return nil
	}
	raw, expiresAt, err := f.IssueToken(ctx, user, entity.Confirmation)
	if err != nil {
		return err
	}
	f.notify(ctx, ConfirmationInstructions(user, raw, expiresAt))
	return nil
}

// Confirm sets confirmed-at without a token. Confirming twice keeps the first timestamp.
func (f *ConfirmationFlow) Confirm(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	if _, err := f.users.Confirm(ctx, userID, nowFrom(f.clock)); err != nil {
		return nil, err
	}
	return f.loadUser(ctx, userID)
}

// RequestPasswordReset never reports whether email belongs to anyone.
func (f *ConfirmationFlow) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := f.users.FindByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil || !user.IsConfirmed() || user.Provider != nil {
		return nil
	}
	raw, expiresAt, err := f.IssueToken(ctx, user, entity.PasswordReset)
	if err != nil {
		return err
	}
	f.notify(ctx, ResetPasswordInstructions(user, raw, expiresAt))
	return nil
}

// ResetPassword spends a reset token, stores the new password and clears the lockout in one
// transaction, then signs the user out of every remembered device.
func (f *ConfirmationFlow) ResetPassword(ctx context.Context, raw string, password string) (*entity.User, error) {
	token, err := f.lookup(ctx, raw, entity.PasswordReset)
	if err != nil {
		return nil, err
	}
	now := nowFrom(f.clock)
	if err := checkPending(token, now); err != nil {
		return nil, err
	}
	hash, err := f.store.HashPassword(password)
	if err != nil {
		return nil, err
	}
	consumed, err := f.tokens.ConsumeReset(ctx, token.ID, token.UserID, hash, now)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, f.refused(ctx, token, now)
	}
	if err := f.remember.RevokeAllByUser(ctx, token.UserID, now); err != nil {
		return nil, err
	}
	user, err := f.loadUser(ctx, token.UserID)
	if err != nil {
		return nil, err
	}
	f.notify(ctx, PasswordChange(user))
	return user, nil
}

// PurgeExpired deletes tokens that expired more than the retention period ago.
func (f *ConfirmationFlow) PurgeExpired(ctx context.Context) (int64, error) {
	return f.tokens.DeleteExpiredBefore(ctx, nowFrom(f.clock).Add(-verificationTokenRetention))
}

// refused explains a conditional update that changed nothing: the token was spent or
// superseded after it was read.
func (f *ConfirmationFlow) refused(ctx context.Context, token *entity.VerificationToken, now time.Time) error {
	current, err := f.tokens.FindByHash(ctx, token.TokenHash, token.Type)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrTokenInvalid
	}
	if err := checkPending(current, now); err != nil {
		return err
	}
	return ErrTokenAlreadyUsed
}

func (f *ConfirmationFlow) lookup(ctx context.Context, raw string, purpose entity.VerificationType) (*entity.VerificationToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}
	token, err := f.tokens.FindByHash(ctx, utils.DigestToken(raw), purpose)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrTokenInvalid
	}
	return token, nil
}

func (f *ConfirmationFlow) loadUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	user, err := f.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrTokenInvalid
	}
	return user, nil
}

func (f *ConfirmationFlow) notify(ctx context.Context, n Notification) {
	if f.notifier != nil {
		f.notifier.Notify(ctx, n)
	}
}

func (f *ConfirmationFlow) ttl(purpose entity.VerificationType) time.Duration {
	if purpose == entity.PasswordReset {
		return f.resetTTL
	}
	return f.confirmationTTL
}

// expired treats the expiry instant itself as expired, which is what a superseded token is
// set to.
func expired(token *entity.VerificationToken, now time.Time) bool {
	return !now.Before(token.ExpiresAt)
}

func checkPending(token *entity.VerificationToken, now time.Time) error {
	if expired(token, now) {
		return ErrTokenExpired
	}
	if token.UsedAt != nil {
		return ErrTokenAlreadyUsed
	}
	return nil
}
