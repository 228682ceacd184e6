package oidcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keychain service name entries are filed under.
const DefaultKeyringService = "authctl"

const keyringIndexKey = "accounts"

// KeyringStore keeps each account in its own keychain item plus an index item
// listing the account ids, since keychains cannot be enumerated portably.
type KeyringStore struct {
	service string
	mu      sync.Mutex
}

func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service}
}

func (s *KeyringStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, ok, err := s.get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *KeyringStore) Get(_ context.Context, accountID string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(accountID)
}

func (s *KeyringStore) Put(_ context.Context, entry Entry) error {
	if entry.AccountID == "" {
		return errors.New("entry has no account id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal keychain entry: %w", err)
	}
	if err := keyring.Set(s.service, entryKey(entry.AccountID), string(content)); err != nil {
		return fmt.Errorf("failed to write keychain entry: %w", err)
	}
	ids, err := s.index()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == entry.AccountID {
			return nil
		}
	}
	return s.writeIndex(append(ids, entry.AccountID))
}

func (s *KeyringStore) Delete(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := keyring.Delete(s.service, entryKey(accountID)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keychain entry: %w", err)
	}
	ids, err := s.index()
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if id != accountID {
			kept = append(kept, id)
		}
	}
	return s.writeIndex(kept)
}

func (s *KeyringStore) get(accountID string) (Entry, bool, error) {
	content, err := keyring.Get(s.service, entryKey(accountID))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to read keychain entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to parse keychain entry: %w", err)
	}
	return e, true, nil
}

func (s *KeyringStore) index() ([]string, error) {
	content, err := keyring.Get(s.service, keyringIndexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keychain index: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(content), &ids); err != nil {
		return nil, fmt.Errorf("failed to parse keychain index: %w", err)
	}
	return ids, nil
}

func (s *KeyringStore) writeIndex(ids []string) error {
	if len(ids) == 0 {
		if err := keyring.Delete(s.service, keyringIndexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to clear keychain index: %w", err)
		}
		return nil
	}
	content, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal keychain index: %w", err)
	}
	if err := keyring.Set(s.service, keyringIndexKey, string(content)); err != nil {
		return fmt.Errorf("failed to write keychain index: %w", err)
	}
	return nil
}

func entryKey(accountID string) string {
	return "account:" + accountID
}
