package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"authcore/internal/entity"
	"authcore/internal/repository"
	"authcore/internal/utils"
)

const (
	DefaultPlaceholderDomain = "users.invalid"
	oauthPasswordBytes       = 48
	usernameAttempts         = 6
	maxUsernameLength        = 30
	maxEmailLocalLength      = 64
)

// OAuthIdentity is what a provider asserted about the user after a successful callback.
type OAuthIdentity struct {
	Provider string
	UID      string
	Nickname string
	Name     string
}

// OAuthLinker maps provider identities to local users. New users get a placeholder email
// and a random password nobody knows, and are confirmed immediately.
type OAuthLinker struct {
	store  *CredentialStore
	users  repository.UserRepository
	domain string
}

func NewOAuthLinker(store *CredentialStore, users repository.UserRepository, placeholderDomain string) *OAuthLinker {
	if strings.TrimSpace(placeholderDomain) == "" {
		placeholderDomain = DefaultPlaceholderDomain
	}
	return &OAuthLinker{store: store, users: users, domain: placeholderDomain}
}

// FindOrCreate returns the user linked to (provider, uid), creating one on first login.
// Concurrent first logins for the same identity all end up with the same user.
func (l *OAuthLinker) FindOrCreate(ctx context.Context, identity OAuthIdentity) (*entity.User, error) {
	provider := strings.ToLower(strings.TrimSpace(identity.Provider))
	uid := strings.TrimSpace(identity.UID)
	if provider == "" {
		return nil, &ValidationError{Field: "provider", Rule: "required"}
	}
	if uid == "" {
		return nil, &ValidationError{Field: "uid", Rule: "required"}
	}

	existing, err := l.users.FindByProvider(ctx, provider, uid)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	password, err := utils.RandomString(oauthPasswordBytes)
	if err != nil {
		return nil, err
	}
	base := usernameBase(identity)
	input := NewUserInput{
		Email:     l.PlaceholderEmail(provider, uid),
		Password:  password,
		Provider:  &provider,
		UID:       &uid,
		Confirmed: true,
		Account:   AccountAttributes{DisplayName: truncateRunes(strings.TrimSpace(identity.Name), 100)},
	}

	for attempt := 0; attempt < usernameAttempts; attempt++ {
		username, err := usernameCandidate(base, attempt)
		if err != nil {
			return nil, err
		}
		taken, err := l.users.UsernameTaken(ctx, username)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}

		input.Account.Username = username
		user, err := l.store.CreateUser(ctx, input)
		switch {
		case err == nil:
			return user, nil
		case errors.Is(err, ErrDuplicateUsername):
			continue
		case errors.Is(err, ErrDuplicateProvider), errors.Is(err, ErrDuplicateEmail):
			winner, findErr := l.users.FindByProvider(ctx, provider, uid)
			if findErr != nil {
				return nil, findErr
			}
			if winner == nil {
				return nil, err
			}
			return winner, nil
		default:
			return nil, err
		}
	}
	return nil, ErrDuplicateUsername
}

// PlaceholderEmail derives a stable address from the identity. When the identity needed
// sanitizing, a digest of the raw pair keeps distinct identities apart.
func (l *OAuthLinker) PlaceholderEmail(provider string, uid string) string {
	raw := provider + "-" + uid + "-dummy"
	local := sanitizeEmailLocal(raw)
	if local != raw || len(local) > maxEmailLocalLength {
		sum := sha256.Sum256([]byte(provider + ":" + uid))
		suffix := "-" + hex.EncodeToString(sum[:])[:12]
		if len(local)+len(suffix) > maxEmailLocalLength {
			local = local[:maxEmailLocalLength-len(suffix)]
		}
		local += suffix
	}
	return local + "@" + l.domain
}

func sanitizeEmailLocal(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}

func usernameBase(identity OAuthIdentity) string {
	for _, candidate := range []string{identity.Nickname, identity.Name} {
		var b strings.Builder
		for _, r := range strings.TrimSpace(candidate) {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
				b.WriteRune(r)
			case r == '-', r == '.', r == ' ':
				b.WriteRune('_')
			}
		}
		base := strings.Trim(b.String(), "_")
		if base != "" {
			return truncateRunes(base, maxUsernameLength)
		}
	}
	return "user"
}

// usernameCandidate yields base first, then base with a four digit suffix, and finally a
// random user_<hex> handle.
func usernameCandidate(base string, attempt int) (string, error) {
	switch {
	case attempt == 0:
		return base, nil
	case attempt < usernameAttempts-1:
		n, err := rand.Int(rand.Reader, big.NewInt(10000))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s_%04d", truncateRunes(base, maxUsernameLength-5), n.Int64()), nil
	default:
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		return "user_" + hex.EncodeToString(buf), nil
	}
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
