package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash string, password string) bool
	NeedsRehash(hash string) bool
}

var errMalformedHash = errors.New("malformed password hash")

// Argon2idHasher produces PHC strings: $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>.
type Argon2idHasher struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

func NewArgon2idHasher() Argon2idHasher {
	return Argon2idHasher{Time: 3, Memory: 64 * 1024, Threads: 2, KeyLen: 32, SaltLen: 16}
}

func (h Argon2idHasher) Hash(password string) (string, error) {
	h = h.withDefaults()
	salt := make([]byte, h.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, h.Time, h.Memory, h.Threads, h.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.Memory, h.Time, h.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h Argon2idHasher) Verify(hash string, password string) bool {
	params, salt, key, err := decodeArgon2id(hash)
	if err != nil {
		return false
	}
	candidate := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(candidate, key) == 1
}

// NeedsRehash reports hashes produced with weaker parameters than h.
func (h Argon2idHasher) NeedsRehash(hash string) bool {
	h = h.withDefaults()
	params, _, _, err := decodeArgon2id(hash)
	if err != nil {
		return true
	}
	return params.Time < h.Time || params.Memory < h.Memory || params.Threads < h.Threads
}

func (h Argon2idHasher) withDefaults() Argon2idHasher {
	defaults := NewArgon2idHasher()
	if h.Time == 0 {
		h.Time = defaults.Time
	}
	if h.Memory == 0 {
		h.Memory = defaults.Memory
	}
	if h.Threads == 0 {
		h.Threads = defaults.Threads
	}
	if h.KeyLen == 0 {
		h.KeyLen = defaults.KeyLen
	}
	if h.SaltLen == 0 {
		h.SaltLen = defaults.SaltLen
	}
	return h
}

func decodeArgon2id(hash string) (Argon2idHasher, []byte, []byte, error) {
	var params Argon2idHasher
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, errMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, errMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return params, nil, nil, errMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, errMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, errMalformedHash
	}
	return params, salt, key, nil
}

type BcryptPasswordHasher struct {
	Cost int
}

func (h BcryptPasswordHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func (h BcryptPasswordHasher) Verify(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (h BcryptPasswordHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	want := h.Cost
	if want == 0 {
		want = bcrypt.DefaultCost
	}
	return cost < want
}

// UpgradingHasher hashes with Primary and still verifies hashes written by Legacy, which
// are always reported as needing a rehash.
type UpgradingHasher struct {
	Primary Argon2idHasher
	Legacy  BcryptPasswordHasher
}

func (h UpgradingHasher) Hash(password string) (string, error) {
	return h.Primary.Hash(password)
}

func (h UpgradingHasher) Verify(hash string, password string) bool {
	if isBcryptHash(hash) {
		return h.Legacy.Verify(hash, password)
	}
	return h.Primary.Verify(hash, password)
}

func (h UpgradingHasher) NeedsRehash(hash string) bool {
	if isBcryptHash(hash) {
		return true
	}
	return h.Primary.NeedsRehash(hash)
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}
