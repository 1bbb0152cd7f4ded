package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"authcore/internal/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthenticator_Success(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice@example.com", "alice", true)

	result, err := f.auth.Authenticate(context.Background(), " ALICE@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)
	assert.False(t, result.TwoFactorRequired)
}

func TestAuthenticator_FailuresCostOneHashCheck(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "alice@example.com", "alice", true)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "wrong password"},
		{"unknown email", "nobody@example.com", "wrong password"},
		{"empty email", "", "wrong password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.hasher.verifies.Store(0)
			_, err := f.auth.Authenticate(context.Background(), tt.email, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Equal(t, int32(1), f.hasher.verifies.Load())
		})
	}
}

func TestAuthenticator_UnknownEmailCostsTheSameStoreWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice@example.com", "alice", true)

	f.counted.lockWrites.Store(0)
	_, err := f.auth.Authenticate(ctx, "alice@example.com", "wrong password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	known := f.counted.lockWrites.Load()

	f.counted.lockWrites.Store(0)
	_, err = f.auth.Authenticate(ctx, "nobody@example.com", "wrong password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, known, f.counted.lockWrites.Load())
	assert.Equal(t, int32(1), known)

	assert.Equal(t, 1, f.reload(t, alice).LockState.FailedAttempts, "only the real account records the failure")
}

func TestAuthenticator_LocksAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", true)
	policy := DefaultLockoutPolicy()

	for i := 0; i < policy.MaxAttempts; i++ {
		_, err := f.auth.Authenticate(ctx, user.Email, "wrong password")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		f.clock.Advance(time.Second)
	}

	_, err := f.auth.Authenticate(ctx, user.Email, testPassword)
	assert.ErrorIs(t, err, ErrLockedAccount, "the correct password does not bypass a lock")
	assert.Equal(t, LockStatusLocked, f.auth.Status(f.reload(t, user)))

	locked := f.notifier.last(t, NotifyAccountLocked)
	assert.Equal(t, user.ID, locked.UserID)
	assert.False(t, locked.ExpiresAt.IsZero())

	f.clock.Advance(policy.Cooldown)
	result, err := f.auth.Authenticate(ctx, user.Email, testPassword)
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)

	state := f.reload(t, user).LockState
	assert.Zero(t, state.FailedAttempts)
	assert.Nil(t, state.LockedUntil)
	assert.Nil(t, state.FirstFailedAt)
}

func TestAuthenticator_Unlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "alice@example.com", "alice", true)

	for i := 0; i < DefaultLockoutPolicy().MaxAttempts; i++ {
		_, _ = f.auth.Authenticate(ctx, user.Email, "wrong password")
	}
	_, err := f.auth.Authenticate(ctx, user.Email, testPassword)
	require.ErrorIs(t, err, ErrLockedAccount)

	require.NoError(t, f.auth.Unlock(ctx, user.ID))
	_, err = f.auth.Authenticate(ctx, user.Email, testPassword)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.auth.Unlock(ctx, uuid.New()), ErrUserNotFound)
}

func TestAuthenticator_UnconfirmedUser(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice@example.com", "alice", false)

	_, err := f.auth.Authenticate(context.Background(), user.Email, testPassword)
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	_, err = f.auth.Authenticate(context.Background(), user.Email, "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "confirmation state is not revealed to a wrong password")
}

func TestAuthenticator_TwoFactorRequired(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice@example.com", "alice", true)
	f.enableTwoFactor(t, user)

	result, err := f.auth.Authenticate(context.Background(), user.Email, testPassword)
	require.NoError(t, err)
	assert.True(t, result.TwoFactorRequired)
}

func TestAuthenticator_RehashesLegacyPasswords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	confirmedAt := testStart
	user := &entity.User{
		Email:        "legacy@example.com",
		PasswordHash: string(legacy),
		ConfirmedAt:  &confirmedAt,
		Account:      entity.Account{Username: "legacy"},
	}
	require.NoError(t, f.users.Create(ctx, user))

	_, err = f.auth.Authenticate(ctx, user.Email, testPassword)
	require.NoError(t, err)

	reloaded := f.reload(t, user)
	assert.True(t, strings.HasPrefix(reloaded.PasswordHash, "$argon2id$"))

	_, err = f.auth.Authenticate(ctx, user.Email, testPassword)
	assert.NoError(t, err)
}
