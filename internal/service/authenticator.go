package service

import (
	"context"
	"strings"

	"authcore/internal/entity"
	"authcore/internal/repository"
	"authcore/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxLockStateRetries = 3

// AuthResult is a successful password check. The session is not authenticated until the
// second factor succeeds when TwoFactorRequired is set.
type AuthResult struct {
	User              *entity.User
	TwoFactorRequired bool
}

type Authenticator struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	notifier  Notifier
	clock     Clock
	policy    LockoutPolicy
	logger    logrus.FieldLogger
	dummyHash string
}

func NewAuthenticator(
	users repository.UserRepository,
	hasher PasswordHasher,
	notifier Notifier,
	clock Clock,
	policy LockoutPolicy,
	logger logrus.FieldLogger,
) (*Authenticator, error) {
	token, err := utils.RandomString(16)
	if err != nil {
		return nil, err
	}
	// compared against when the email is unknown, so both failures cost one hash check
	dummyHash, err := hasher.Hash(token)
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		users:     users,
		hasher:    hasher,
		notifier:  notifier,
		clock:     clock,
		policy:    policy,
		logger:    logger,
		dummyHash: dummyHash,
	}, nil
}

// Authenticate checks an email/password pair. Unknown emails and wrong passwords both
// yield ErrInvalidCredentials.
func (a *Authenticator) Authenticate(ctx context.Context, email string, password string) (*AuthResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		_ = a.hasher.Verify(a.dummyHash, password)
		return nil, ErrInvalidCredentials
	}

	user, err := a.users.FindByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		_ = a.hasher.Verify(a.dummyHash, password)
		return nil, a.mirrorFailure(ctx)
	}

	matched := a.hasher.Verify(user.PasswordHash, password)
	now := nowFrom(a.clock)
	if a.policy.Status(user.LockState, now) == LockStatusLocked {
		return nil, ErrLockedAccount
	}
	if !matched {
		if err := a.recordFailure(ctx, user); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	if a.policy.Dirty(user.LockState) {
		cleared, err := a.users.UpdateLockState(ctx, user.ID, user.Version, entity.LockState{})
		if err != nil {
			return nil, err
		}
		if cleared {
			user.LockState = entity.LockState{}
			user.Version++
		}
	}
	if !user.IsConfirmed() {
		return nil, ErrEmailNotConfirmed
	}
	if a.hasher.NeedsRehash(user.PasswordHash) {
		a.rehash(ctx, user, password)
	}
	return &AuthResult{User: user, TwoFactorRequired: user.TwoFactorEnabled()}, nil
}

// Unlock returns a locked account to Active immediately.
func (a *Authenticator) Unlock(ctx context.Context, userID uuid.UUID) error {
	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	return a.users.Unlock(ctx, userID)
}

// mirrorFailure issues the lock state write a wrong password costs, against a row that
// cannot exist, so unknown emails take the same store round trips.
func (a *Authenticator) mirrorFailure(ctx context.Context) error {
	state := a.policy.RecordFailure(entity.LockState{}, nowFrom(a.clock))
	if _, err := a.users.UpdateLockState(ctx, uuid.Nil, 0, state); err != nil {
		return err
	}
	return ErrInvalidCredentials
}

func (a *Authenticator) Status(user *entity.User) LockStatus {
	return a.policy.Status(user.LockState, nowFrom(a.clock))
}

func (a *Authenticator) recordFailure(ctx context.Context, user *entity.User) error {
	for attempt := 0; attempt < maxLockStateRetries; attempt++ {
		now := nowFrom(a.clock)
		next := a.policy.RecordFailure(user.LockState, now)
		updated, err := a.users.UpdateLockState(ctx, user.ID, user.Version, next)
		if err != nil {
			return err
		}
		if updated {
			if a.policy.Status(next, now) == LockStatusLocked && a.notifier != nil {
				a.notifier.Notify(ctx, AccountLocked(user, *next.LockedUntil))
			}
			return nil
		}
		// a concurrent write bumped the version; start again from the stored state
		user, err = a.users.FindByID(ctx, user.ID)
		if err != nil {
			return err
		}
		if user == nil {
			return nil
		}
	}
	a.logger.WithField("user_id", user.ID).Warn("lock state update kept conflicting")
	return nil
}

func (a *Authenticator) rehash(ctx context.Context, user *entity.User, password string) {
	hash, err := a.hasher.Hash(password)
	if err == nil {
		err = a.users.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		a.logger.WithError(err).WithField("user_id", user.ID).Warn("password rehash failed")
		return
	}
	user.PasswordHash = hash
	user.Version++
}
