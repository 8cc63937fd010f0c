package credential

import (
	"context"
	"fmt"
	"sort"
	"sync"

	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

type memoryKey struct {
	userID   string
	provider contractx.Provider
}

// MemoryStore is a process-local CredentialStore for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[memoryKey]contractx.Credential
	puts  int
}

var _ contractx.CredentialStore = (*MemoryStore)(nil)

func NewMemoryStore(seed ...contractx.Credential) *MemoryStore {
	s := &MemoryStore{creds: make(map[memoryKey]contractx.Credential, len(seed))}
	for _, c := range seed {
		s.creds[memoryKey{c.UserID, c.Provider}] = c
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, userID string, provider contractx.Provider) (contractx.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[memoryKey{userID, provider}]
	if !ok {
		return contractx.Credential{}, fmt.Errorf("%w: %s for user=%s", contractx.ErrMissingCredential, provider, userID)
	}
	return c, nil
}

func (s *MemoryStore) Put(_ context.Context, cred contractx.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[memoryKey{cred.UserID, cred.Provider}] = cred
	s.puts++
	return nil
}

func (s *MemoryStore) ListByProvider(_ context.Context, provider contractx.Provider) ([]contractx.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contractx.Credential, 0, len(s.creds))
	for k, c := range s.creds {
		if k.provider == provider {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Puts counts writes, for assertions on refresh behaviour.
func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
