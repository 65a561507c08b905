package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"enharness/internal/state"
)

// Store is the in-process shared state for a single run. It starts
// empty and is discarded when the run ends.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewStore() *Store {
	return &Store{values: make(map[string]string, 64)}
}

// Put writes a key exactly once. Writing an existing key fails;
// controlled replacement goes through Overwrite.
func (s *Store) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return fmt.Errorf("key %q: %w", key, state.ErrAlreadySet)
	}
	s.values[key] = value
	return nil
}

func (s *Store) Overwrite(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("key %q: %w", key, state.ErrNotFound)
	}
	return v, nil
}

func (s *Store) Lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
