package secrets

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]Secret
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: map[string]Secret{}}
}

// Put stores a secret under the given reference.
func (s *MemoryStore) Put(ref string, sec Secret) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[ref] = sec
}

// Resolve implements Store.
func (s *MemoryStore) Resolve(_ context.Context, ref string) (Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.secrets[ref]
	if !ok {
		return Secret{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if sec.APIKey == "" {
		return Secret{}, fmt.Errorf("%w: %s: missing api_key", ErrMalformed, ref)
	}
	return sec, nil
}

var _ Store = (*MemoryStore)(nil)
