package storage

import "sync"

// Session is an in-memory Store. All methods are thread-safe.
type Session struct {
	mu     sync.RWMutex
	values map[string]string
}

// Compile-time check that Session implements Store
var _ Store = (*Session)(nil)

// NewSession creates an empty in-memory store.
func NewSession() *Session {
	return &Session{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key. It never fails.
func (s *Session) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
