package config

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"transcribe-multilingual/internal/domain"
)

// SettingsStore holds runtime setting overrides as raw strings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

type storedKey struct {
	EncryptedKey string    `json:"encrypted_key"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type document struct {
	Settings map[string]string    `json:"settings"`
	APIKeys  map[string]storedKey `json:"api_keys"`
}

// JSONStore persists setting overrides and encrypted API keys in a single
// JSON file on disk. It backs installs that run without a database.
type JSONStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path, now: time.Now}
}

// load reads the document or returns an empty one when missing.
func (s *JSONStore) load() (document, error) {
	doc := document{Settings: map[string]string{}, APIKeys: map[string]storedKey{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return document{}, err
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, err
	}
	if doc.Settings == nil {
		doc.Settings = map[string]string{}
	}
	if doc.APIKeys == nil {
		doc.APIKeys = map[string]storedKey{}
	}
	return doc, nil
}

// save writes the document as indented JSON through a temp file and rename.
func (s *JSONStore) save(doc document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *JSONStore) update(fn func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	fn(&doc)
	return s.save(doc)
}

// GetSetting implements SettingsStore.
func (s *JSONStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := doc.Settings[key]
	return v, ok, nil
}

// SetSetting implements SettingsStore.
func (s *JSONStore) SetSetting(_ context.Context, key, value string) error {
	return s.update(func(doc *document) { doc.Settings[key] = value })
}

// Settings returns a copy of every stored override.
func (s *JSONStore) Settings(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return maps.Clone(doc.Settings), nil
}

// PutAPIKey stores an encrypted provider key.
func (s *JSONStore) PutAPIKey(_ context.Context, provider, encrypted string) error {
	return s.update(func(doc *document) {
		doc.APIKeys[provider] = storedKey{EncryptedKey: encrypted, UpdatedAt: s.now().UTC()}
	})
}

// APIKeyCipher returns the encrypted key of provider.
func (s *JSONStore) APIKeyCipher(_ context.Context, provider string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	k, ok := doc.APIKeys[provider]
	return k.EncryptedKey, ok, nil
}

// DeleteAPIKey removes a stored key; removing a missing key is not an error.
func (s *JSONStore) DeleteAPIKey(_ context.Context, provider string) error {
	return s.update(func(doc *document) { delete(doc.APIKeys, provider) })
}

// ListAPIKeys lists stored providers in name order.
func (s *JSONStore) ListAPIKeys(_ context.Context) ([]domain.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.APIKeyInfo, 0, len(doc.APIKeys))
	for provider, k := range doc.APIKeys {
		out = append(out, domain.APIKeyInfo{Provider: provider, UpdatedAt: k.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}
