package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
)

// Store resolves presented API keys to subjects. Implementations must be safe
// for concurrent use.
type Store interface {
	Lookup(ctx context.Context, secret string) (*Subject, error)
}

type storedKey struct {
	digest  []byte
	subject *Subject
}

// MemoryStore keeps SHA-256 digests of the configured keys; plaintext secrets
// are never retained.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]storedKey
}

// NewMemoryStore initialises the store with the provided keys.
func NewMemoryStore(keys []Key) (*MemoryStore, error) {
	store := &MemoryStore{keys: make(map[string]storedKey, len(keys))}
	for _, key := range keys {
		if err := store.Put(key); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Put adds or replaces a key.
func (s *MemoryStore) Put(key Key) error {
	secret := strings.TrimSpace(key.Secret)
	if secret == "" {
		return errors.New("api key secret cannot be empty")
	}
	name := strings.TrimSpace(key.Name)
	if name == "" {
		return errors.New("api key name cannot be empty")
	}
	digest := sha256.Sum256([]byte(secret))
	subject := &Subject{
		Name:        name,
		Permissions: dedupeStrings(key.Permissions),
		Disabled:    key.Disabled,
	}
	subject.normalise()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[hex.EncodeToString(digest[:])] = storedKey{digest: digest[:], subject: subject}
	return nil
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, secret string) (*Subject, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(secret))

	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.keys[hex.EncodeToString(digest[:])]
	if !ok || subtle.ConstantTimeCompare(entry.digest, digest[:]) != 1 {
		return nil, ErrInvalidToken
	}
	return entry.subject.Clone(), nil
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
