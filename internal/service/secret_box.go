package service

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrUnknownSecretKey = errors.New("secret sealed with unknown key")
	ErrSealedSecret     = errors.New("malformed sealed secret")
)

// SecretBox encrypts TOTP secrets at rest with XChaCha20-Poly1305. Values are sealed as
// "<key id>$<base64url(nonce|ciphertext)>". The primary key seals; every key in the ring
// opens, so retired keys must stay configured until RotateSecrets has resealed all rows.
type SecretBox struct {
	primary string
	keys    map[string]cipher.AEAD
}

func NewSecretBox(primary string, keys map[string][]byte) (*SecretBox, error) {
	if _, ok := keys[primary]; !ok {
		return nil, fmt.Errorf("primary key %q is not in the key ring", primary)
	}
	box := &SecretBox{primary: primary, keys: make(map[string]cipher.AEAD, len(keys))}
	for id, key := range keys {
		if id == "" || strings.Contains(id, "$") {
			return nil, fmt.Errorf("invalid key id %q", id)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", id, err)
		}
		box.keys[id] = aead
	}
	return box, nil
}

func (b *SecretBox) Seal(plaintext string) (string, error) {
	aead := b.keys[b.primary]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(b.primary))
	return b.primary + "$" + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (b *SecretBox) Open(sealed string) (string, error) {
	id, payload, ok := strings.Cut(sealed, "$")
	if !ok {
		return "", ErrSealedSecret
	}
	aead, ok := b.keys[id]
	if !ok {
		return "", ErrUnknownSecretKey
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(raw) < aead.NonceSize() {
		return "", ErrSealedSecret
	}
	plaintext, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], []byte(id))
	if err != nil {
		return "", ErrSealedSecret
	}
	return string(plaintext), nil
}

// NeedsRotation reports values sealed with a key other than the primary one.
func (b *SecretBox) NeedsRotation(sealed string) bool {
	id, _, _ := strings.Cut(sealed, "$")
	return id != b.primary
}
