package repository

import (
	"context"
	"errors"
	"time"

	"authcore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByProvider(ctx context.Context, provider string, uid string) (*entity.User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	UpdateLocale(ctx context.Context, id uuid.UUID, locale *string) error
	UpdatePreferences(ctx context.Context, id uuid.UUID, settings entity.UserSettings, hideOAuth bool) error
	UpdateLockState(ctx context.Context, id uuid.UUID, version int64, state entity.LockState) (bool, error)
	Unlock(ctx context.Context, id uuid.UUID) error
	Confirm(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	TrackSignIn(ctx context.Context, id uuid.UUID, ipAddress *string, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int, scopes ...func(*gorm.DB) *gorm.DB) ([]entity.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func Recent(db *gorm.DB) *gorm.DB {
	return db.Order("users.created_at DESC")
}

func Admins(db *gorm.DB) *gorm.DB {
	return db.Where("users.admin = ?", true)
}

func Confirmed(db *gorm.DB) *gorm.DB {
	return db.Where("users.confirmed_at IS NOT NULL")
}

// Create inserts user.Account and user in one transaction. Uniqueness violations are
// reported as ErrEmailTaken, ErrProviderTaken or ErrUsernameTaken.
func (r *userRepository) Create(ctx context.Context, user *entity.User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.checkUnique(tx, user); err != nil {
			return err
		}
		if err := tx.Create(&user.Account).Error; err != nil {
			return err
		}
		user.AccountID = user.Account.ID
		return tx.Omit(clause.Associations).Create(user).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost a race between the check and the insert
		if classified := r.checkUnique(r.db.WithContext(ctx), user); classified != nil {
			return wrapErr(classified)
		}
		return ErrDuplicateKey
	}
	return wrapErr(err)
}

func (r *userRepository) checkUnique(db *gorm.DB, user *entity.User) error {
	if err := ensureAbsent(db.Model(&entity.User{}).Where("email = ?", user.Email), ErrEmailTaken); err != nil {
		return err
	}
	if user.Provider != nil && user.UID != nil {
		query := db.Model(&entity.User{}).Where("provider = ? AND uid = ?", *user.Provider, *user.UID)
		if err := ensureAbsent(query, ErrProviderTaken); err != nil {
			return err
		}
	}
	query := db.Model(&entity.Account{}).Where("LOWER(username) = LOWER(?)", user.Account.Username)
	return ensureAbsent(query, ErrUsernameTaken)
}

func ensureAbsent(query *gorm.DB, taken error) error {
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return taken
	}
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return r.findOne(ctx, "users.id = ?", id)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.findOne(ctx, "users.email = ?", email)
}

func (r *userRepository) FindByProvider(ctx context.Context, provider string, uid string) (*entity.User, error) {
	return r.findOne(ctx, "users.provider = ? AND users.uid = ?", provider, uid)
}

func (r *userRepository) findOne(ctx context.Context, query string, args ...any) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Preload("Account").
		Preload("MFASecret").
		Where(query, args...).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &user, nil
}

func (r *userRepository) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Account{}).
		Where("LOWER(username) = LOWER(?)", username).
		Count(&count).Error
	return count > 0, wrapErr(err)
}

func (r *userRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return wrapErr(r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash": hash,
			"version":       gorm.Expr("version + 1"),
		}).Error)
}

// UpdatePreferences replaces the settings document and the hide_oauth flag.
func (r *userRepository) UpdatePreferences(ctx context.Context, id uuid.UUID, settings entity.UserSettings, hideOAuth bool) error {
	return wrapErr(r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"settings":   datatypes.NewJSONType(settings),
			"hide_oauth": hideOAuth,
			"version":    gorm.Expr("version + 1"),
		}).Error)
}

func (r *userRepository) UpdateLocale(ctx context.Context, id uuid.UUID, locale *string) error {
	return wrapErr(r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"locale":  locale,
			"version": gorm.Expr("version + 1"),
		}).Error)
}

// UpdateLockState writes state only when the row is still at version.
func (r *userRepository) UpdateLockState(ctx context.Context, id uuid.UUID, version int64, state entity.LockState) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND version = ?", id, version).
		Updates(lockStateColumns(state))
	if result.Error != nil {
		return false, wrapErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *userRepository) Unlock(ctx context.Context, id uuid.UUID) error {
	return wrapErr(r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Updates(lockStateColumns(entity.LockState{})).Error)
}

func lockStateColumns(state entity.LockState) map[string]any {
	return map[string]any{
		"failed_attempts": state.FailedAttempts,
		"first_failed_at": state.FirstFailedAt,
		"locked_until":    state.LockedUntil,
		"version":         gorm.Expr("version + 1"),
	}
}

// Confirm sets confirmed_at once; it reports whether this call changed the row.
func (r *userRepository) Confirm(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND confirmed_at IS NULL", id).
		Update("confirmed_at", at)
	if result.Error != nil {
		return false, wrapErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *userRepository) TrackSignIn(ctx context.Context, id uuid.UUID, ipAddress *string, at time.Time) error {
	return wrapErr(r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_sign_in_at":    gorm.Expr("current_sign_in_at"),
			"last_sign_in_ip":    gorm.Expr("current_sign_in_ip"),
			"current_sign_in_at": at,
			"current_sign_in_ip": ipAddress,
			"sign_in_count":      gorm.Expr("sign_in_count + 1"),
		}).Error)
}

// Delete removes the user together with its account and everything the user owns.
func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return wrapErr(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user entity.User
		if err := tx.Select("id", "account_id").Where("id = ?", id).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		owned := []any{&entity.MFASecret{}, &entity.BackupCode{}, &entity.VerificationToken{}, &entity.RememberToken{}}
		for _, model := range owned {
			if err := tx.Where("user_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&entity.SecurityLog{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&entity.User{}, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&entity.Account{}, "id = ?", user.AccountID).Error
	}))
}

func (r *userRepository) List(ctx context.Context, limit, offset int, scopes ...func(*gorm.DB) *gorm.DB) ([]entity.User, error) {
	var users []entity.User
	query := r.db.WithContext(ctx).Preload("Account").Scopes(scopes...)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, wrapErr(err)
	}
	return users, nil
}
