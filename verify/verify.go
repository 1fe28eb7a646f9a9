// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package verify holds short-lived one-time values: emailed verification
// codes and password-reset tickets.
package verify

import (
	"crypto/subtle"
	"sync"
	"time"
)

const (
	EmailCodeTTL   = 10 * time.Minute
	ResetTicketTTL = 15 * time.Minute
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Store maps a key to a value that expires. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Set replaces any existing value for key
func (s *Store) Set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
}

// Verify reports whether value matches the live entry for key.
// A match consumes the entry; an expired entry is dropped either way.
func (s *Store) Verify(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(e.value), []byte(value)) != 1 {
		return false
	}
	delete(s.entries, key)
	return true
}

// Peek returns the live value for key without consuming it
func (s *Store) Peek(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", false
	}
	return e.value, true
}

// Delete drops key if present
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Sweep removes entries expired at now and returns how many were removed
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
