package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"authcore/internal/entity"
	"authcore/internal/repository"
	"authcore/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,30}$`)

type AccountAttributes struct {
	Username    string
	DisplayName string
}

// PreferencesInput is a partial update; nil fields keep their stored value. An empty
// DefaultPrivacy clears the choice so the account's locked state decides again.
type PreferencesInput struct {
	DefaultPrivacy *string
	BoostModal     *bool
	AutoPlayGif    *bool
	HideOAuth      *bool
}

type NewUserInput struct {
	Email     string
	Password  string
	Locale    *string
	Admin     bool
	Provider  *string
	UID       *string
	Confirmed bool
	Account   AccountAttributes
}

// CredentialStore owns user creation and lookup. Passwords are hashed before they reach
// the repository and are never kept in plaintext.
type CredentialStore struct {
	users    repository.UserRepository
	hasher   PasswordHasher
	validate *validator.Validate
	clock    Clock
	locales  []string
}

func NewCredentialStore(
	users repository.UserRepository,
	hasher PasswordHasher,
	validate *validator.Validate,
	clock Clock,
	supportedLocales []string,
) (*CredentialStore, error) {
	if validate == nil {
		validate = validator.New()
	}
	err := validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	if err != nil {
		return nil, err
	}
	return &CredentialStore{
		users:    users,
		hasher:   hasher,
		validate: validate,
		clock:    clock,
		locales:  supportedLocales,
	}, nil
}

func (s *CredentialStore) Create(ctx context.Context, email string, password string, account AccountAttributes) (*entity.User, error) {
	return s.CreateUser(ctx, NewUserInput{Email: email, Password: password, Account: account})
}

func (s *CredentialStore) CreateUser(ctx context.Context, input NewUserInput) (*entity.User, error) {
	email := utils.NormalizeEmail(input.Email)
	if err := s.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := s.ValidatePassword(input.Password); err != nil {
		return nil, err
	}
	if err := s.ValidateLocale(input.Locale); err != nil {
		return nil, err
	}
	if err := s.check("username", input.Account.Username, "required,username"); err != nil {
		return nil, err
	}
	if err := s.check("display_name", input.Account.DisplayName, "max=100"); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	user := &entity.User{
		Email:        email,
		PasswordHash: hash,
		Locale:       input.Locale,
		Admin:        input.Admin,
		Provider:     input.Provider,
		UID:          input.UID,
		Account: entity.Account{
			Username:    input.Account.Username,
			DisplayName: input.Account.DisplayName,
		},
	}
	if input.Confirmed {
		now := nowFrom(s.clock)
		user.ConfirmedAt = &now
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, mapDuplicate(err)
	}
	return user, nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return s.users.FindByEmail(ctx, utils.NormalizeEmail(email))
}

func (s *CredentialStore) FindByProvider(ctx context.Context, provider string, uid string) (*entity.User, error) {
	return s.users.FindByProvider(ctx, provider, uid)
}

// SetPassword validates and hashes password before storing it for userID.
func (s *CredentialStore) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	hash, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, userID, hash)
}

// VerifyPassword checks password against the user's stored hash in constant time.
func (s *CredentialStore) VerifyPassword(user *entity.User, password string) bool {
	return s.hasher.Verify(user.PasswordHash, password)
}

func (s *CredentialStore) HashPassword(password string) (string, error) {
	if err := s.ValidatePassword(password); err != nil {
		return "", err
	}
	return s.hasher.Hash(password)
}

func (s *CredentialStore) UpdateLocale(ctx context.Context, userID uuid.UUID, locale *string) error {
	if err := s.ValidateLocale(locale); err != nil {
		return err
	}
	return s.users.UpdateLocale(ctx, userID, locale)
}

func (s *CredentialStore) UpdatePreferences(ctx context.Context, userID uuid.UUID, input PreferencesInput) (*entity.User, error) {
	if input.DefaultPrivacy != nil && *input.DefaultPrivacy != "" {
		if err := s.check("default_privacy", *input.DefaultPrivacy, "oneof="+entity.PrivacyPublic+" "+entity.PrivacyPrivate); err != nil {
			return nil, err
		}
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	settings := user.Settings.Data()
	if input.DefaultPrivacy != nil {
		settings.DefaultPrivacy = *input.DefaultPrivacy
	}
	if input.BoostModal != nil {
		settings.BoostModal = *input.BoostModal
	}
	if input.AutoPlayGif != nil {
		settings.AutoPlayGif = *input.AutoPlayGif
	}
	hideOAuth := user.HideOAuth
	if input.HideOAuth != nil {
		hideOAuth = *input.HideOAuth
	}
	if err := s.users.UpdatePreferences(ctx, userID, settings, hideOAuth); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, userID)
}

func (s *CredentialStore) ValidateEmail(email string) error {
	return s.check("email", email, "required,email,max=255")
}

func (s *CredentialStore) ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Rule: "min"}
	}
	if len(password) > MaxPasswordLength {
		return &ValidationError{Field: "password", Rule: "max"}
	}
	return nil
}

// ValidateLocale accepts nil or a member of the supported locale set.
func (s *CredentialStore) ValidateLocale(locale *string) error {
	if locale == nil {
		return nil
	}
	if len(s.locales) == 0 {
		return &ValidationError{Field: "locale", Rule: "oneof"}
	}
	return s.check("locale", *locale, "oneof="+strings.Join(s.locales, " "))
}

func (s *CredentialStore) check(field string, value string, rules string) error {
	err := s.validate.Var(value, rules)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		return &ValidationError{Field: field, Rule: fieldErrors[0].Tag()}
	}
	return &ValidationError{Field: field, Rule: rules}
}
