package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// encryptedPrefix marks an API key sealed with EncryptSecret.
const encryptedPrefix = "enc:v1:"

var errNoMasterKey = errors.New("encrypted secret requires a master key")

func deriveKey(masterKey string) (*[32]byte, error) {
	var key [32]byte
	r := hkdf.New(sha256.New, []byte(masterKey), nil, []byte("yieldwatch provider credentials"))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &key, nil
}

// EncryptSecret seals plaintext with a key derived from masterKey.
func EncryptSecret(masterKey, plaintext string) (string, error) {
	if masterKey == "" {
		return "", errNoMasterKey
	}
	key, err := deriveKey(masterKey)
	if err != nil {
		return "", err
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return encryptedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptSecret opens a value produced by EncryptSecret.
// Values without the encrypted prefix are returned unchanged.
func DecryptSecret(masterKey, value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	if masterKey == "" {
		return "", errNoMasterKey
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", errors.New("encrypted secret is truncated")
	}
	key, err := deriveKey(masterKey)
	if err != nil {
		return "", err
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, key)
	if !ok {
		return "", errors.New("encrypted secret could not be opened with the configured master key")
	}
	return string(plain), nil
}

// MaskSecret returns a display form of a key that keeps only its last four characters.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
