package service

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"authcore/internal/dbtest"
	"authcore/internal/entity"
	"authcore/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testPassword = "correct horse battery"

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testStart}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *recordingNotifier) ofKind(kind NotificationKind) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, sent := range n.sent {
		if sent.Kind == kind {
			out = append(out, sent)
		}
	}
	return out
}

func (n *recordingNotifier) last(t *testing.T, kind NotificationKind) Notification {
	t.Helper()
	matching := n.ofKind(kind)
	require.NotEmpty(t, matching, "no %s notification", kind)
	return matching[len(matching)-1]
}

// countingHasher counts Verify calls so tests can check that failures cost the same.
type countingHasher struct {
	PasswordHasher
	verifies atomic.Int32
}

func (h *countingHasher) Verify(hash string, password string) bool {
	h.verifies.Add(1)
	return h.PasswordHasher.Verify(hash, password)
}

// countingUsers counts lock state writes, the other store cost of a failed login.
type countingUsers struct {
	repository.UserRepository
	lockWrites atomic.Int32
}

func (u *countingUsers) UpdateLockState(ctx context.Context, id uuid.UUID, version int64, state entity.LockState) (bool, error) {
	u.lockWrites.Add(1)
	return u.UserRepository.UpdateLockState(ctx, id, version, state)
}

func fastArgon2() Argon2idHasher {
	return Argon2idHasher{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}
}

func testHasher() UpgradingHasher {
	return UpgradingHasher{Primary: fastArgon2(), Legacy: BcryptPasswordHasher{Cost: bcrypt.MinCost}}
}

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

type fixture struct {
	db       *gorm.DB
	clock    *fakeClock
	notifier *recordingNotifier
	hasher   *countingHasher
	logs     *test.Hook

	counted  *countingUsers
	users    repository.UserRepository
	secrets  repository.MFASecretRepository
	codes    repository.BackupCodeRepository
	security repository.SecurityLogRepository

	engine        *TOTPEngine
	box           *SecretBox
	store         *CredentialStore
	auth          *Authenticator
	twoFactor     *TwoFactorManager
	confirmations *ConfirmationFlow
	oauth         *OAuthLinker
	remember      *RememberManager
	service       *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := dbtest.Open(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	counted := &countingUsers{UserRepository: repository.NewUserRepository(db)}
	f := &fixture{
		db:       db,
		counted:  counted,
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
		hasher:   &countingHasher{PasswordHasher: testHasher()},
		logs:     hook,
		users:    counted,
		secrets:  repository.NewMFASecretRepository(db),
		codes:    repository.NewBackupCodeRepository(db),
		security: repository.NewSecurityLogRepository(db),
		engine:   NewTOTPEngine("authcore-test"),
	}
	remembered := repository.NewRememberTokenRepository(db)

	var err error
	f.box, err = NewSecretBox("k1", map[string][]byte{"k1": testKey(1)})
	require.NoError(t, err)
	f.store, err = NewCredentialStore(f.users, f.hasher, validator.New(), f.clock, []string{"en", "ja"})
	require.NoError(t, err)
	f.auth, err = NewAuthenticator(f.users, f.hasher, f.notifier, f.clock, DefaultLockoutPolicy(), logger)
	require.NoError(t, err)

	f.twoFactor = NewTwoFactorManager(f.secrets, f.codes, f.engine, f.box, f.clock)
	f.confirmations = NewConfirmationFlow(
		repository.NewVerificationTokenRepository(db), f.users, remembered, f.store, f.notifier, f.clock, 0, 0,
	)
	f.oauth = NewOAuthLinker(f.store, f.users, "")
	f.remember = NewRememberManager(remembered, f.users, f.clock, 0)

	secret := testKey(7)
	f.service = NewAuthService(AuthDependencies{
		Store:         f.store,
		Authenticator: f.auth,
		TwoFactor:     f.twoFactor,
		Confirmations: f.confirmations,
		OAuth:         f.oauth,
		Remember:      f.remember,
		Users:         f.users,
		SecurityLogs:  f.security,
		AccessTokens:  JWTAccessIssuer{Secret: secret, Issuer: "authcore-test", Clock: f.clock},
		MFATokens:     MFATokenIssuerJWT{Secret: testKey(8), Issuer: "authcore-test", Clock: f.clock},
		Notifier:      f.notifier,
		Clock:         f.clock,
		Logger:        logger,
	})
	return f
}

func (f *fixture) createUser(t *testing.T, email string, username string, confirmed bool) *entity.User {
	t.Helper()
	user, err := f.store.CreateUser(context.Background(), NewUserInput{
		Email:     email,
		Password:  testPassword,
		Confirmed: confirmed,
		Account:   AccountAttributes{Username: username},
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) reload(t *testing.T, user *entity.User) *entity.User {
	t.Helper()
	reloaded, err := f.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	return reloaded
}

// enableTwoFactor runs setup to completion and returns the plaintext secret and backup codes.
func (f *fixture) enableTwoFactor(t *testing.T, user *entity.User) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := f.twoFactor.BeginSetup(ctx, user)
	require.NoError(t, err)
	codes, err := f.twoFactor.ConfirmSetup(ctx, user.ID, f.code(t, setup.Secret))
	require.NoError(t, err)
	// the confirming step is spent; move on so the next code is fresh
	f.clock.Advance(30 * time.Second)
	return setup.Secret, codes
}

func (f *fixture) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := f.engine.CurrentCode(secret, f.clock.Now())
	require.NoError(t, err)
	return code
}

// wrongCode returns a six digit code different from every code accepted around now.
func (f *fixture) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	accepted := map[string]bool{}
	for _, delta := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := f.engine.CurrentCode(secret, f.clock.Now().Add(delta))
		require.NoError(t, err)
		accepted[code] = true
	}
	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !accepted[candidate] {
			return candidate
		}
	}
	t.Fatal("no rejected code found")
	return ""
}

func (f *fixture) actions(t *testing.T, user *entity.User) []entity.SecurityAction {
	t.Helper()
	logs, err := f.security.ListByUser(context.Background(), user.ID, 0)
	require.NoError(t, err)
	actions := make([]entity.SecurityAction, 0, len(logs))
	for _, log := range logs {
		actions = append(actions, log.Action)
	}
	return actions
}
