package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDuplicateKey     = errors.New("duplicate key")

	ErrEmailTaken    = fmt.Errorf("%w: email", ErrDuplicateKey)
	ErrProviderTaken = fmt.Errorf("%w: provider identity", ErrDuplicateKey)
	ErrUsernameTaken = fmt.Errorf("%w: username", ErrDuplicateKey)
)

// wrapErr maps driver failures onto the repository error kinds. It requires the
// connection to be opened with gorm.Config.TranslateError.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateKey
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
