package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"transcribe-multilingual/internal/domain"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrDecrypt is returned when a ciphertext was not sealed with this key.
var ErrDecrypt = errors.New("secrets: cannot decrypt value")

// Box seals short secrets with NaCl secretbox.
type Box struct {
	key [keySize]byte
}

// NewBox builds a Box from a 32 byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", keySize, len(key))
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// ParseKey decodes a base64 key as produced by GenerateKey.
func ParseKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// GenerateKey returns a fresh base64 encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// LoadOrCreateKeyFile reads the key at path, creating it with mode 0600 when missing.
func LoadOrCreateKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseKey(string(data))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	encoded, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, err
	}
	return ParseKey(encoded)
}

// Encrypt seals plaintext and returns base64(nonce || box).
func (b *Box) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// KeyStore persists encrypted provider keys.
type KeyStore interface {
	PutAPIKey(ctx context.Context, provider, encrypted string) error
	APIKeyCipher(ctx context.Context, provider string) (string, bool, error)
	DeleteAPIKey(ctx context.Context, provider string) error
	ListAPIKeys(ctx context.Context) ([]domain.APIKeyInfo, error)
}

// Keyring encrypts provider keys on write and decrypts them for adapters.
type Keyring struct {
	Box   *Box
	Store KeyStore
}

// Put encrypts and stores key for provider.
func (k *Keyring) Put(ctx context.Context, provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Invalidf("api key must not be empty")
	}
	sealed, err := k.Box.Encrypt(key)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	return k.Store.PutAPIKey(ctx, provider, sealed)
}

// APIKey returns the decrypted key of provider or "" when none is stored.
func (k *Keyring) APIKey(ctx context.Context, provider string) (string, error) {
	sealed, ok, err := k.Store.APIKeyCipher(ctx, provider)
	if err != nil || !ok {
		return "", err
	}
	return k.Box.Decrypt(sealed)
}

// Delete removes the key of provider.
func (k *Keyring) Delete(ctx context.Context, provider string) error {
	return k.Store.DeleteAPIKey(ctx, provider)
}

// List returns stored providers without their keys.
func (k *Keyring) List(ctx context.Context) ([]domain.APIKeyInfo, error) {
	return k.Store.ListAPIKeys(ctx)
}
