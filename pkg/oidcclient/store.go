package oidcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Storage backends accepted by NewStore.
const (
	StorageKeychain = "keychain"
	StorageFile     = "file"
)

// Entry is one cached account with its tokens.
type Entry struct {
	AccountID    string    `json:"account_id"`
	Username     string    `json:"username,omitempty"`
	Issuer       string    `json:"issuer"`
	Subject      string    `json:"subject"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	SignedInAt   time.Time `json:"signed_in_at"`
}

// Store persists cached accounts. Implementations must be safe for concurrent
// use within one process.
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, accountID string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, accountID string) error
}

// NewStore returns the store for a storage backend name.
func NewStore(mode, path, service string) (Store, error) {
	switch mode {
	case StorageKeychain, "":
		return NewKeyringStore(service), nil
	case StorageFile:
		if path == "" {
			return nil, errors.New("token cache path is required for file storage")
		}
		return NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported token storage %q: supported values are keychain, file", mode)
	}
}

type tokenCache struct {
	Version  int              `json:"version"`
	Accounts map[string]Entry `json:"accounts"`
}

const tokenCacheVersion = 1

// FileStore keeps all accounts in one JSON file readable only by the owner.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache, err := s.load()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(cache.Accounts))
	for _, e := range cache.Accounts {
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *FileStore) Get(_ context.Context, accountID string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache, err := s.load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := cache.Accounts[accountID]
	return e, ok, nil
}

func (s *FileStore) Put(_ context.Context, entry Entry) error {
	if entry.AccountID == "" {
		return errors.New("entry has no account id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cache, err := s.load()
	if err != nil {
		return err
	}
	cache.Accounts[entry.AccountID] = entry
	return s.save(cache)
}

func (s *FileStore) Delete(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := cache.Accounts[accountID]; !ok {
		return nil
	}
	delete(cache.Accounts, accountID)
	return s.save(cache)
}

func (s *FileStore) load() (*tokenCache, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &tokenCache{Version: tokenCacheVersion, Accounts: map[string]Entry{}}, nil
		}
		return nil, fmt.Errorf("failed to read token cache: %w", err)
	}
	var cache tokenCache
	if err := json.Unmarshal(content, &cache); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if cache.Accounts == nil {
		cache.Accounts = map[string]Entry{}
	}
	return &cache, nil
}

func (s *FileStore) save(cache *tokenCache) error {
	cache.Version = tokenCacheVersion
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	content, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("failed to create token cache: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict token cache permissions: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}
