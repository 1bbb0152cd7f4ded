package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"authcore/internal/entity"
	"authcore/internal/repository"
	"authcore/internal/utils"

	"github.com/google/uuid"
)

const (
	DefaultBackupCodeCount = 10
	backupCodeBytes        = 5
)

type TwoFactorSetup struct {
	Secret          string
	ProvisioningURI string
}

// TwoFactorManager keeps TOTP secrets sealed in the store and guards every one-time code
// against reuse: TOTP steps through a monotonic last-used step, backup codes through a
// conditional used_at update.
type TwoFactorManager struct {
	secrets         repository.MFASecretRepository
	codes           repository.BackupCodeRepository
	engine          *TOTPEngine
	box             *SecretBox
	clock           Clock
	backupCodeCount int
}

func NewTwoFactorManager(
	secrets repository.MFASecretRepository,
	codes repository.BackupCodeRepository,
	engine *TOTPEngine,
	box *SecretBox,
	clock Clock,
) *TwoFactorManager {
	return &TwoFactorManager{
		secrets:         secrets,
		codes:           codes,
		engine:          engine,
		box:             box,
		clock:           clock,
		backupCodeCount: DefaultBackupCodeCount,
	}
}

// BeginSetup stores a fresh pending secret. Two-factor stays disabled until ConfirmSetup
// receives a code proving the user holds the secret.
func (m *TwoFactorManager) BeginSetup(ctx context.Context, user *entity.User) (*TwoFactorSetup, error) {
	existing, err := m.secrets.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.EnabledAt != nil {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := m.engine.GenerateSecret(user.Email)
	if err != nil {
		return nil, err
	}
	sealed, err := m.box.Seal(secret)
	if err != nil {
		return nil, err
	}
	record := &entity.MFASecret{UserID: user.ID, EncryptedSecret: sealed}
	if err := m.secrets.Upsert(ctx, record); err != nil {
		return nil, err
	}
	return &TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: m.engine.ProvisioningURI(user.Email, secret),
	}, nil
}

// ConfirmSetup enables two-factor and returns the first set of backup codes.
func (m *TwoFactorManager) ConfirmSetup(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	record, err := m.secrets.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrMFANotEnabled
	}
	if record.EnabledAt != nil {
		return nil, ErrMFAAlreadyEnabled
	}
	if err := m.checkCode(ctx, record, code); err != nil {
		return nil, err
	}
	enabled, err := m.secrets.Enable(ctx, userID, nowFrom(m.clock))
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrMFAAlreadyEnabled
	}
	return m.issueBackupCodes(ctx, userID)
}

// VerifyCode accepts a TOTP code once; replaying it or an older code fails.
func (m *TwoFactorManager) VerifyCode(ctx context.Context, userID uuid.UUID, code string) error {
	record, err := m.enabledSecret(ctx, userID)
	if err != nil {
		return err
	}
	return m.checkCode(ctx, record, code)
}

// ConsumeBackupCode spends one backup code. A spent code yields ErrTokenAlreadyUsed.
func (m *TwoFactorManager) ConsumeBackupCode(ctx context.Context, userID uuid.UUID, code string) error {
	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return ErrTOTPInvalid
	}
	hash := utils.DigestToken(normalized)
	consumed, err := m.codes.Consume(ctx, userID, hash, nowFrom(m.clock))
	if err != nil {
		return err
	}
	if consumed {
		return nil
	}
	existing, err := m.codes.Find(ctx, userID, hash)
	if err != nil {
		return err
	}
	if existing != nil && existing.UsedAt != nil {
		return ErrTokenAlreadyUsed
	}
	return ErrTOTPInvalid
}

// VerifySecondFactor routes all-digit codes of TOTP length to VerifyCode and everything
// else to ConsumeBackupCode. It reports whether a backup code was spent.
func (m *TwoFactorManager) VerifySecondFactor(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) == m.engine.digits().Length() && isDigits(code) {
		return false, m.VerifyCode(ctx, userID, code)
	}
	if _, err := m.enabledSecret(ctx, userID); err != nil {
		return false, err
	}
	if err := m.ConsumeBackupCode(ctx, userID, code); err != nil {
		return false, err
	}
	return true, nil
}

// GenerateBackupCodes returns n distinct codes formatted as xxxxx-xxxxx.
func (m *TwoFactorManager) GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		n = DefaultBackupCodeCount
	}
	seen := make(map[string]struct{}, n)
	codes := make([]string, 0, n)
	buf := make([]byte, backupCodeBytes)
	for len(codes) < n {
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		raw := hex.EncodeToString(buf)
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, raw[:5]+"-"+raw[5:])
	}
	return codes, nil
}

// RegenerateBackupCodes replaces every backup code after a fresh second factor. A backup
// code is accepted as proof and is spent like any other use.
func (m *TwoFactorManager) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	if _, err := m.VerifySecondFactor(ctx, userID, code); err != nil {
		return nil, err
	}
	return m.issueBackupCodes(ctx, userID)
}

func (m *TwoFactorManager) RemainingBackupCodes(ctx context.Context, userID uuid.UUID) (int64, error) {
	return m.codes.CountUnused(ctx, userID)
}

// Disable requires a valid second factor, then drops the secret and all backup codes.
func (m *TwoFactorManager) Disable(ctx context.Context, userID uuid.UUID, code string) error {
	if _, err := m.VerifySecondFactor(ctx, userID, code); err != nil {
		return err
	}
	return m.secrets.Disable(ctx, userID)
}

// RotateSecrets reseals every secret not sealed with the primary key and returns how
// many rows changed. Retired keys can be removed from the ring once it returns.
func (m *TwoFactorManager) RotateSecrets(ctx context.Context) (int, error) {
	records, err := m.secrets.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	rotated := 0
	for _, record := range records {
		if !m.box.NeedsRotation(record.EncryptedSecret) {
			continue
		}
		secret, err := m.box.Open(record.EncryptedSecret)
		if err != nil {
			return rotated, err
		}
		sealed, err := m.box.Seal(secret)
		if err != nil {
			return rotated, err
		}
		if err := m.secrets.UpdateEncryptedSecret(ctx, record.ID, sealed); err != nil {
			return rotated, err
		}
		rotated++
	}
	return rotated, nil
}

func (m *TwoFactorManager) enabledSecret(ctx context.Context, userID uuid.UUID) (*entity.MFASecret, error) {
	record, err := m.secrets.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.EnabledAt == nil {
		return nil, ErrMFANotEnabled
	}
	return record, nil
}

func (m *TwoFactorManager) checkCode(ctx context.Context, record *entity.MFASecret, code string) error {
	secret, err := m.box.Open(record.EncryptedSecret)
	if err != nil {
		return err
	}
	step, ok := m.engine.Match(secret, code, nowFrom(m.clock))
	if !ok {
		return ErrTOTPInvalid
	}
	claimed, err := m.secrets.ConsumeStep(ctx, record.UserID, step)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrTOTPInvalid
	}
	return nil
}

func (m *TwoFactorManager) issueBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	codes, err := m.GenerateBackupCodes(m.backupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		hashes = append(hashes, utils.DigestToken(normalizeBackupCode(code)))
	}
	if err := m.codes.Replace(ctx, userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

func normalizeBackupCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}
