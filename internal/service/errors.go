package service

import (
	"errors"
	"fmt"

	"authcore/internal/repository"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrDuplicateProvider  = errors.New("provider identity already linked")
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrLockedAccount      = errors.New("account locked")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenAlreadyUsed   = errors.New("token already used")
	ErrTOTPInvalid        = errors.New("invalid one-time code")
	ErrMFARequired        = errors.New("mfa required")
	ErrMFAAlreadyEnabled  = errors.New("mfa already enabled")
	ErrMFANotEnabled      = errors.New("mfa not enabled")
	ErrUserNotFound       = errors.New("user not found")

	// ErrUndeliverable marks a notification that no retry can deliver.
	ErrUndeliverable = errors.New("notification cannot be delivered")

	// ErrStoreUnavailable wraps every persistence failure. Callers may retry with backoff.
	ErrStoreUnavailable = repository.ErrStoreUnavailable
)

// ValidationError names the offending field and the rule it broke.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s failed %q", ErrValidation, e.Field, e.Rule)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func mapDuplicate(err error) error {
	switch {
	case errors.Is(err, repository.ErrEmailTaken):
		return ErrDuplicateEmail
	case errors.Is(err, repository.ErrProviderTaken):
		return ErrDuplicateProvider
	case errors.Is(err, repository.ErrUsernameTaken):
		return ErrDuplicateUsername
	}
	return err
}
