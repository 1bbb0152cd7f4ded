package repository

import (
	"authcore/internal/entity"

	"gorm.io/gorm"
)

// Migrate creates or updates the tables owned by this module.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.Account{},
		&entity.User{},
		&entity.MFASecret{},
		&entity.BackupCode{},
		&entity.VerificationToken{},
		&entity.RememberToken{},
		&entity.SecurityLog{},
	)
}
