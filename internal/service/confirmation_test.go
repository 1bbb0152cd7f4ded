package service

import (
	"context"
	"testing"
	"time"

	"authcore/internal/dto"
	"authcore/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmationFlow_ConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", false)

	require.NoError(t, f.confirmations.SendConfirmationInstructions(ctx, user))
	sent := f.notifier.last(t, NotifyConfirmationInstructions)
	assert.Equal(t, user.Email, sent.Email)
	assert.Equal(t, testStart.Add(DefaultConfirmationTTL), sent.ExpiresAt)

	confirmed, err := f.confirmations.ConsumeToken(ctx, sent.Token, entity.Confirmation)
	require.NoError(t, err)
	require.NotNil(t, confirmed.ConfirmedAt)
	first := *confirmed.ConfirmedAt

	f.clock.Advance(time.Hour)
	again, err := f.confirmations.ConsumeToken(ctx, sent.Token, entity.Confirmation)
	require.NoError(t, err, "a spent confirmation token is a no-op")
	assert.True(t, first.Equal(*again.ConfirmedAt))

	require.NoError(t, f.confirmations.SendConfirmationInstructions(ctx, again))
	assert.Len(t, f.notifier.ofKind(NotifyConfirmationInstructions), 1, "confirmed users get no more mail")
}

func TestConfirmationFlow_ConfirmationTokenErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", false)

	_, err := f.confirmations.ConsumeToken(ctx, "", entity.Confirmation)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = f.confirmations.ConsumeToken(ctx, "unknown", entity.Confirmation)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	stale, _, err := f.confirmations.IssueToken(ctx, user, entity.Confirmation)
	require.NoError(t, err)
	current, _, err := f.confirmations.IssueToken(ctx, user, entity.Confirmation)
	require.NoError(t, err)

	_, err = f.confirmations.ConsumeToken(ctx, stale, entity.Confirmation)
	assert.ErrorIs(t, err, ErrTokenExpired, "issuing expires the pending token")
	_, err = f.confirmations.ConsumeToken(ctx, current, entity.PasswordReset)
	assert.ErrorIs(t, err, ErrTokenInvalid, "tokens are bound to their purpose")

	f.clock.Advance(DefaultConfirmationTTL + time.Second)
	_, err = f.confirmations.ConsumeToken(ctx, current, entity.Confirmation)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.False(t, f.reload(t, user).IsConfirmed())
}

func TestConfirmationFlow_Confirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", false)

	confirmed, err := f.confirmations.Confirm(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, confirmed.ConfirmedAt)

	f.clock.Advance(time.Hour)
	again, err := f.confirmations.Confirm(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.ConfirmedAt.Equal(*again.ConfirmedAt))
}

func TestConfirmationFlow_ResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", true)

	remembered, _, err := f.remember.Issue(ctx, user, ClientInfo{})
	require.NoError(t, err)
	for i := 0; i < DefaultLockoutPolicy().MaxAttempts; i++ {
		_, _ = f.auth.Authenticate(ctx, user.Email, "wrong password")
	}

	require.NoError(t, f.confirmations.RequestPasswordReset(ctx, " ALICE@example.com "))
	sent := f.notifier.last(t, NotifyResetPasswordInstructions)
	assert.Equal(t, testStart.Add(DefaultResetTTL), sent.ExpiresAt)

	_, err = f.confirmations.ResetPassword(ctx, sent.Token, "short")
	require.ErrorIs(t, err, ErrValidation)

	reset, err := f.confirmations.ResetPassword(ctx, sent.Token, "a brand new password")
	require.NoError(t, err)
	assert.Equal(t, user.ID, reset.ID)
	assert.Zero(t, reset.LockState.FailedAttempts)
	assert.Nil(t, reset.LockState.LockedUntil)
	assert.True(t, f.store.VerifyPassword(reset, "a brand new password"))

	_, err = f.confirmations.ResetPassword(ctx, sent.Token, "another new password")
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)

	_, err = f.remember.Validate(ctx, remembered)
	assert.ErrorIs(t, err, ErrTokenInvalid, "a reset signs out remembered devices")
	assert.Equal(t, user.ID, f.notifier.last(t, NotifyPasswordChange).UserID)

	_, err = f.auth.Authenticate(ctx, user.Email, "a brand new password")
	assert.NoError(t, err)
}

func TestConfirmationFlow_ResetTokenReportsExpiryFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", true)

	used, _, err := f.confirmations.IssueToken(ctx, user, entity.PasswordReset)
	require.NoError(t, err)
	_, err = f.confirmations.ResetPassword(ctx, used, "a brand new password")
	require.NoError(t, err)

	f.clock.Advance(DefaultResetTTL + time.Second)
	_, err = f.confirmations.ResetPassword(ctx, used, "another new password")
	assert.ErrorIs(t, err, ErrTokenExpired)

	fresh, _, err := f.confirmations.IssueToken(ctx, user, entity.PasswordReset)
	require.NoError(t, err)
	consumed, err := f.confirmations.ConsumeToken(ctx, fresh, entity.PasswordReset)
	require.NoError(t, err)
	assert.Equal(t, user.ID, consumed.ID)
	_, err = f.confirmations.ConsumeToken(ctx, fresh, entity.PasswordReset)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestConfirmationFlow_SupersededResetTokenReportsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", true)

	require.NoError(t, f.confirmations.RequestPasswordReset(ctx, user.Email))
	old := f.notifier.last(t, NotifyResetPasswordInstructions).Token

	f.clock.Advance(DefaultResetTTL + time.Minute)
	require.NoError(t, f.confirmations.RequestPasswordReset(ctx, user.Email))
	current := f.notifier.last(t, NotifyResetPasswordInstructions).Token
	require.NotEqual(t, old, current)

	err := f.service.ResetPassword(ctx, dtoReset(old), ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenExpired, "an old link stays expired after a new one is sent")
	require.NoError(t, f.service.ResetPassword(ctx, dtoReset(current), ClientInfo{}))
}

func TestConfirmationFlow_SupersededLiveTokenIsExpiredImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", true)

	first, _, err := f.confirmations.IssueToken(ctx, user, entity.PasswordReset)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, _, err := f.confirmations.IssueToken(ctx, user, entity.PasswordReset)
	require.NoError(t, err)

	_, err = f.confirmations.ResetPassword(ctx, first, "a brand new password")
	assert.ErrorIs(t, err, ErrTokenExpired)
	_, err = f.confirmations.ConsumeToken(ctx, first, entity.PasswordReset)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, f.store.VerifyPassword(f.reload(t, user), testPassword))

	_, err = f.confirmations.ResetPassword(ctx, second, "a brand new password")
	require.NoError(t, err)
}

func TestConfirmationFlow_PurgeExpiredKeepsRecentTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", true)

	old, _, err := f.confirmations.IssueToken(ctx, user, entity.PasswordReset)
	require.NoError(t, err)
	f.clock.Advance(DefaultResetTTL + verificationTokenRetention + time.Minute)
	recent, _, err := f.confirmations.IssueToken(ctx, user, entity.PasswordReset)
	require.NoError(t, err)

	removed, err := f.service.CleanupVerificationTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = f.confirmations.ConsumeToken(ctx, old, entity.PasswordReset)
	assert.ErrorIs(t, err, ErrTokenInvalid, "purged tokens are unknown")
	_, err = f.confirmations.ConsumeToken(ctx, recent, entity.PasswordReset)
	assert.NoError(t, err)
}

func TestConfirmationFlow_RequestPasswordResetIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createUser(t, "pending@example.com", "pending", false)
	_, err := f.oauth.FindOrCreate(ctx, OAuthIdentity{Provider: "github", UID: "42", Nickname: "octocat"})
	require.NoError(t, err)

	for _, email := range []string{"nobody@example.com", "pending@example.com", "github-42-dummy@users.invalid"} {
		require.NoError(t, f.confirmations.RequestPasswordReset(ctx, email), email)
	}
	assert.Empty(t, f.notifier.ofKind(NotifyResetPasswordInstructions))
}

func dtoReset(token string) dto.PasswordResetRequest {
	return dto.PasswordResetRequest{Token: token, NewPassword: "a brand new password"}
}
